package cache

import "testing"

func TestSpanContains(t *testing.T) {
	outer := Span{Start: 0, End: 10}
	if !outer.contains(Span{Start: 2, End: 5}) {
		t.Fatal("expected containment")
	}
	if outer.contains(Span{Start: 2, End: 11}) {
		t.Fatal("expected no containment past end")
	}
}

func TestSpanIntersectsAndAdjacent(t *testing.T) {
	a := Span{Start: 0, End: 5}
	b := Span{Start: 3, End: 8}
	c := Span{Start: 6, End: 9}

	if !a.intersects(b) {
		t.Fatal("a and b should intersect")
	}
	if a.intersects(c) {
		t.Fatal("a and c should not intersect")
	}
	if !a.isAdjacent(c) {
		t.Fatal("a and c should be adjacent")
	}
	if a.isAdjacent(b) {
		t.Fatal("overlapping spans are not adjacent")
	}
}

func TestSpanUnion(t *testing.T) {
	a := Span{Start: 0, End: 5}
	b := Span{Start: 3, End: 8}
	u := a.union(b)
	if u != (Span{Start: 0, End: 8}) {
		t.Fatalf("got %v", u)
	}
}

func TestSpanDistance(t *testing.T) {
	a := Span{Start: 0, End: 5}
	adjacent := Span{Start: 6, End: 9}
	gapped := Span{Start: 8, End: 9}
	overlap := Span{Start: 3, End: 9}

	if d := a.distance(adjacent); d != 0 {
		t.Fatalf("adjacent distance = %d, want 0", d)
	}
	if d := a.distance(gapped); d != 2 {
		t.Fatalf("gapped distance = %d, want 2", d)
	}
	if d := a.distance(overlap); d >= 0 {
		t.Fatalf("overlap distance = %d, want negative", d)
	}
}

func TestSpanForwardAndBackwardOverlap(t *testing.T) {
	request := Span{Start: 5, End: 10}

	forward := Span{Start: 2, End: 7} // a <= start <= b < end
	if !forward.isForwardOverlapOf(request) {
		t.Fatal("expected forward overlap")
	}

	backward := Span{Start: 8, End: 15} // start <= a <= end < b
	if !backward.isBackwardOverlapOf(request) {
		t.Fatal("expected backward overlap")
	}
}

func TestFileNameRoundTrip(t *testing.T) {
	name := fileName("GZ", Span{Start: 3, End: 9})
	if name != "GZ.3-9" {
		t.Fatalf("got %q", name)
	}
	prefix, span, ok := parseSpanName(name)
	if !ok || prefix != "GZ" || span != (Span{Start: 3, End: 9}) {
		t.Fatalf("round-trip failed: prefix=%q span=%v ok=%v", prefix, span, ok)
	}
}

func TestParseSpanNameRejectsSidecars(t *testing.T) {
	if _, _, ok := parseSpanName("GZ.3-9l"); ok {
		t.Fatal("lock sidecar should not parse as a span")
	}
	if _, _, ok := parseSpanName("GZ.3-9_"); ok {
		t.Fatal("delete marker should not parse as a span")
	}
	if _, _, ok := parseSpanName("not-a-span"); ok {
		t.Fatal("garbage name should not parse")
	}
}

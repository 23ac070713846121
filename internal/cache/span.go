// Package cache implements the C9 Cache Manager: an on-disk directory of
// compressed byte-span files backing remote block-compressed flatfile reads,
// with lock-sidecar discipline for safe concurrent access and a cleanup pass
// that keeps the directory free of overlapping or adjacent spans.
//
// The span algebra (contains/intersects/isAdjacent/union) is the same shape
// as an in-memory byte-range cache, just keyed by block id instead of byte
// offset and backed by files instead of a map.
package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// Span is an inclusive range of block ids [Start, End], mirroring spec's
// CacheSpan: a file whose content is the compressed byte run from the start
// block's first byte to the end block's last byte.
type Span struct {
	Start, End int
}

// contains reports whether s fully covers other.
func (s Span) contains(other Span) bool {
	return s.Start <= other.Start && s.End >= other.End
}

// intersects reports whether s and other share at least one block.
func (s Span) intersects(other Span) bool {
	return s.Start <= other.End && other.Start <= s.End
}

// isAdjacent reports whether s and other are consecutive with no gap and no
// overlap.
func (s Span) isAdjacent(other Span) bool {
	return s.End+1 == other.Start || other.End+1 == s.Start
}

// union returns the smallest span covering both s and other, valid only when
// they intersect or are adjacent.
func (s Span) union(other Span) Span {
	start := s.Start
	if other.Start < start {
		start = other.Start
	}
	end := s.End
	if other.End > end {
		end = other.End
	}
	return Span{Start: start, End: end}
}

// distance is max(s.Start,other.Start) - min(s.End,other.End) - 1 (spans
// are inclusive): negative means overlap, zero means adjacent, positive
// means a gap of that many blocks.
func (s Span) distance(other Span) int {
	maxStart := s.Start
	if other.Start > maxStart {
		maxStart = other.Start
	}
	minEnd := s.End
	if other.End < minEnd {
		minEnd = other.End
	}
	return maxStart - minEnd - 1
}

// isForwardOverlapOf reports whether s starts no later than request and ends
// inside it without fully covering it: a ≤ start ≤ b < end.
func (s Span) isForwardOverlapOf(request Span) bool {
	return s.Start <= request.Start && request.Start <= s.End && s.End < request.End
}

// isBackwardOverlapOf reports whether s starts inside request and extends
// past its end, the mirror image of isForwardOverlapOf.
func (s Span) isBackwardOverlapOf(request Span) bool {
	return request.Start <= s.Start && s.Start <= request.End && request.End < s.End
}

// fileName renders the on-disk basename for a span under the given prefix
// ("GZ" for gztool-backed block maps, "BGZ" for fixed-stride BGZF).
func fileName(prefix string, s Span) string {
	return fmt.Sprintf("%s.%d-%d", prefix, s.Start, s.End)
}

// lockName is the empty read-lock sidecar for a span file.
func lockName(name string) string { return name + "l" }

// deleteMarkerName is the pending-delete sidecar for a span file.
func deleteMarkerName(name string) string { return name + "_" }

// parseSpanName parses a cache span basename of the form "PREFIX.start-end".
// It returns ok=false for anything that isn't a well-formed span file name
// (including lock and delete-marker sidecars, which callers filter out
// before ever reaching here).
func parseSpanName(name string) (prefix string, span Span, ok bool) {
	dot := strings.IndexByte(name, '.')
	if dot < 0 {
		return "", Span{}, false
	}
	prefix, rest := name[:dot], name[dot+1:]
	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return "", Span{}, false
	}
	start, err := strconv.Atoi(rest[:dash])
	if err != nil {
		return "", Span{}, false
	}
	end, err := strconv.Atoi(rest[dash+1:])
	if err != nil {
		return "", Span{}, false
	}
	if start > end {
		return "", Span{}, false
	}
	return prefix, Span{Start: start, End: end}, true
}

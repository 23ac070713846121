package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"k8s.io/klog/v2"
)

// CleanupResult tallies what one Cleanup pass did, for progress reporting.
type CleanupResult struct {
	LocksCleared   int
	DeletesHonored int
	SpansDropped   int
	SpansMerged    int
}

// Cleanup reconciles m.Dir back to the steady-state invariant: no two spans
// overlap, no two are adjacent, every surviving span has nonzero size. It
// runs in five passes, each building on the last, mirroring spec's cleanup
// lifecycle description. Cleanup assumes no Serve calls are in flight
// concurrently with it (run it at process exit).
func (m *Manager) Cleanup() (*CleanupResult, error) {
	res := &CleanupResult{}

	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return nil, fmt.Errorf("cache: reading %s: %w", m.Dir, err)
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}

	// (a) Delete residual lock files. Cleanup only runs once nothing is
	// reading, so any lock sidecar left is stale.
	for name := range names {
		base, isLock := trimLockSuffix(name)
		if !isLock {
			continue
		}
		if _, _, ok := parseSpanName(base); !ok {
			continue
		}
		if err := os.Remove(filepath.Join(m.Dir, name)); err == nil {
			res.LocksCleared++
		}
		delete(names, name)
	}

	// (b) Honor pending delete markers: the target was superseded by a grow
	// while a reader held its lock; the lock is gone now (step a), so the
	// delete can proceed.
	for name := range names {
		base, isMarker := trimDeleteMarkerSuffix(name)
		if !isMarker {
			continue
		}
		if _, _, ok := parseSpanName(base); !ok {
			continue
		}
		if names[base] {
			if err := os.Remove(filepath.Join(m.Dir, base)); err == nil {
				res.DeletesHonored++
			}
			delete(names, base)
		}
		os.Remove(filepath.Join(m.Dir, name))
		delete(names, name)
	}

	// Remaining names suffixed with "l"/"_" that don't parse as lock/marker
	// sidecars of a real span are left alone (not ours to touch).
	var spans []candidate
	for name := range names {
		prefix, span, ok := parseSpanName(name)
		if !ok || prefix != m.Prefix {
			continue
		}
		spans = append(spans, candidate{name: name, span: span})
	}

	// (c) Drop empty or subsumed spans.
	sort.Slice(spans, func(i, j int) bool { return spans[i].span.Start < spans[j].span.Start })
	var kept []candidate
	for _, c := range spans {
		fi, err := os.Stat(filepath.Join(m.Dir, c.name))
		if err != nil {
			continue
		}
		if fi.Size() == 0 {
			os.Remove(filepath.Join(m.Dir, c.name))
			res.SpansDropped++
			continue
		}
		subsumed := false
		for _, other := range spans {
			if other.name == c.name {
				continue
			}
			if other.span != c.span && other.span.contains(c.span) {
				subsumed = true
				break
			}
		}
		if subsumed {
			os.Remove(filepath.Join(m.Dir, c.name))
			res.SpansDropped++
			continue
		}
		kept = append(kept, c)
	}
	spans = kept

	// (d) Merge adjacent spans, repeatedly, until none remain.
	for {
		sort.Slice(spans, func(i, j int) bool { return spans[i].span.Start < spans[j].span.Start })
		merged := false
		for i := 0; i+1 < len(spans); i++ {
			if spans[i].span.isAdjacent(spans[i+1].span) {
				nc, err := m.mergeAdjacent(spans[i], spans[i+1])
				if err != nil {
					return res, err
				}
				spans = replace2(spans, i, nc)
				res.SpansMerged++
				merged = true
				break
			}
		}
		if !merged {
			break
		}
	}

	// (e) Merge overlapping spans, repeatedly, skipping the covered tail of
	// the second when appending.
	for {
		sort.Slice(spans, func(i, j int) bool { return spans[i].span.Start < spans[j].span.Start })
		merged := false
		for i := 0; i+1 < len(spans); i++ {
			if spans[i].span.intersects(spans[i+1].span) {
				nc, err := m.mergeOverlapping(spans[i], spans[i+1])
				if err != nil {
					return res, err
				}
				spans = replace2(spans, i, nc)
				res.SpansMerged++
				merged = true
				break
			}
		}
		if !merged {
			break
		}
	}

	klog.V(3).Infof("cache: cleanup in %s: locks=%d deletes=%d dropped=%d merged=%d",
		m.Dir, res.LocksCleared, res.DeletesHonored, res.SpansDropped, res.SpansMerged)
	return res, nil
}

// mergeAdjacent writes a new span file that is the plain concatenation of
// two adjacent spans' bytes (no shared block, so no overlap to trim), then
// unlinks both sources.
func (m *Manager) mergeAdjacent(a, b candidate) (candidate, error) {
	newSpan := a.span.union(b.span)
	newName := fileName(m.Prefix, newSpan)
	if err := m.writeAtomic(newName, func(w io.Writer) error {
		for _, c := range []candidate{a, b} {
			if err := copyFileInto(w, filepath.Join(m.Dir, c.name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return candidate{}, err
	}
	os.Remove(filepath.Join(m.Dir, a.name))
	os.Remove(filepath.Join(m.Dir, b.name))
	return candidate{name: newName, span: newSpan}, nil
}

// mergeOverlapping writes a new span file covering a ∪ b, where a.Start <=
// b.Start and the two intersect: a's bytes in full, then only b's bytes
// past the point where a already covers it.
func (m *Manager) mergeOverlapping(a, b candidate) (candidate, error) {
	newSpan := a.span.union(b.span)
	newName := fileName(m.Prefix, newSpan)

	skipToBlock := a.span.End + 1
	skipByte, err := m.BlockMap.CompressedStart(skipToBlock)
	if err != nil {
		return candidate{}, err
	}
	bStartByte, err := m.BlockMap.CompressedStart(b.span.Start)
	if err != nil {
		return candidate{}, err
	}
	skipBytes := skipByte - bStartByte
	if skipBytes < 0 {
		skipBytes = 0
	}

	if err := m.writeAtomic(newName, func(w io.Writer) error {
		if err := copyFileInto(w, filepath.Join(m.Dir, a.name)); err != nil {
			return err
		}
		bf, err := os.Open(filepath.Join(m.Dir, b.name))
		if err != nil {
			return err
		}
		defer bf.Close()
		if _, err := bf.Seek(skipBytes, io.SeekStart); err != nil {
			return err
		}
		_, err = io.Copy(w, bf)
		return err
	}); err != nil {
		return candidate{}, err
	}
	os.Remove(filepath.Join(m.Dir, a.name))
	os.Remove(filepath.Join(m.Dir, b.name))
	return candidate{name: newName, span: newSpan}, nil
}

func copyFileInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// replace2 swaps spans[i] and spans[i+1] for a single merged candidate.
func replace2(spans []candidate, i int, merged candidate) []candidate {
	out := make([]candidate, 0, len(spans)-1)
	out = append(out, spans[:i]...)
	out = append(out, merged)
	out = append(out, spans[i+2:]...)
	return out
}

func trimLockSuffix(name string) (base string, ok bool) {
	if len(name) < 2 || name[len(name)-1] != 'l' {
		return "", false
	}
	return name[:len(name)-1], true
}

func trimDeleteMarkerSuffix(name string) (base string, ok bool) {
	if len(name) < 2 || name[len(name)-1] != '_' {
		return "", false
	}
	return name[:len(name)-1], true
}

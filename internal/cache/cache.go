package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/flatfiledb/ffdb/internal/blockmap"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
)

// Fetcher retrieves the compressed byte range [start, end] (inclusive) of
// the remote flatfile, e.g. httpfetch.FetchRange bound to one URL.
type Fetcher func(ctx context.Context, start, end int64) ([]byte, error)

// Manager serves compressed block spans out of a local directory, fetching
// and growing span files on demand and reconciling the directory back to a
// no-overlap, no-adjacency steady state on Cleanup.
type Manager struct {
	Dir      string
	Prefix   string // "GZ" (gztool block map) or "BGZ" (fixed-stride BGZF)
	BlockMap blockmap.BlockMap
	Fetch    Fetcher

	files *openFiles
}

// NewManager builds a Manager. openFileCapacity bounds the number of span
// files kept open for reuse across Serve calls; 0 means unbounded.
func NewManager(dir, prefix string, bm blockmap.BlockMap, fetch Fetcher, openFileCapacity int) *Manager {
	return &Manager{
		Dir:      dir,
		Prefix:   prefix,
		BlockMap: bm,
		Fetch:    fetch,
		files:    newOpenFiles(openFileCapacity),
	}
}

// candidate is one on-disk span file considered for a Serve request.
type candidate struct {
	name string
	span Span
}

// listCandidates enumerates m.Dir for spans of m.Prefix, excluding lock
// sidecars, delete-marker sidecars, and any span with a pending delete
// marker.
func (m *Manager) listCandidates() ([]candidate, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: reading %s: %w", m.Dir, err)
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}

	var out []candidate
	for _, e := range entries {
		prefix, span, ok := parseSpanName(e.Name())
		if !ok || prefix != m.Prefix {
			continue
		}
		if names[deleteMarkerName(e.Name())] {
			continue // pending delete, not a serving candidate
		}
		out = append(out, candidate{name: e.Name(), span: span})
	}
	return out, nil
}

// rank categorizes and orders candidates for a request span: full
// containment first, then forward overlap, then backward overlap, then
// everything else, each bucket ordered by ascending distance and then by
// ascending span size (prefer the tightest fit).
func rank(candidates []candidate, request Span) []candidate {
	category := func(c candidate) int {
		switch {
		case c.span.contains(request):
			return 0
		case c.span.isForwardOverlapOf(request):
			return 1
		case c.span.isBackwardOverlapOf(request):
			return 2
		default:
			return 3
		}
	}
	size := func(c candidate) int { return c.span.End - c.span.Start }

	out := make([]candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := category(out[i]), category(out[j])
		if ci != cj {
			return ci < cj
		}
		di, dj := out[i].span.distance(request), out[j].span.distance(request)
		if di != dj {
			return di < dj
		}
		return size(out[i]) < size(out[j])
	})
	return out
}

// Serve resolves the compressed span covering request, growing or creating
// a cache file as needed, and returns its path, the span the returned file
// actually covers (which may be larger than request), and a release
// function the caller must call once done reading. The returned path is
// locked (via an empty sidecar) for the duration between Serve and release,
// so Cleanup never unlinks it out from under a reader.
func (m *Manager) Serve(ctx context.Context, request Span) (path string, served Span, release func(), err error) {
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return "", Span{}, nil, fmt.Errorf("cache: creating %s: %w", m.Dir, err)
	}

	candidates, err := m.listCandidates()
	if err != nil {
		return "", Span{}, nil, err
	}
	ranked := rank(candidates, request)

	var finalName string
	var finalSpan Span
	if len(ranked) > 0 && ranked[0].span.contains(request) {
		finalName = ranked[0].name
		finalSpan = ranked[0].span
	} else if len(ranked) > 0 {
		finalSpan = ranked[0].span.union(request)
		finalName, err = m.grow(ctx, ranked[0], request)
	} else {
		finalSpan = request
		finalName, err = m.createFresh(ctx, request)
	}
	if err != nil {
		return "", Span{}, nil, err
	}

	finalPath := filepath.Join(m.Dir, finalName)
	lockPath := filepath.Join(m.Dir, lockName(finalName))
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			// Another reader already holds (or recently held) the lock;
			// join them rather than erroring — the lock sidecar is a
			// presence marker, not a mutex.
		} else {
			return "", Span{}, nil, fmt.Errorf("cache: creating lock %s: %w", lockPath, err)
		}
	} else {
		lf.Close()
	}

	if _, statErr := os.Stat(finalPath); statErr != nil {
		os.Remove(lockPath)
		return "", Span{}, nil, fmt.Errorf("%w: %s", ffdberr.ErrCacheFileMissing, finalPath)
	}

	released := false
	release = func() {
		if released {
			return
		}
		released = true
		os.Remove(lockPath)
	}
	return finalPath, finalSpan, release, nil
}

// grow extends an existing candidate span to cover request, writing a new
// span file and retiring the old one (or marking it for deferred deletion
// if a concurrent reader holds its lock). Returns the new file's basename.
func (m *Manager) grow(ctx context.Context, c candidate, request Span) (string, error) {
	newSpan := c.span.union(request)
	if newSpan == c.span {
		return c.name, nil
	}

	oldPath := filepath.Join(m.Dir, c.name)
	oldBytes, err := os.ReadFile(oldPath)
	if err != nil {
		return "", fmt.Errorf("cache: reading %s to grow it: %w", oldPath, err)
	}

	var head, tail []byte
	if newSpan.Start < c.span.Start {
		head, err = m.fetchBlockRange(ctx, newSpan.Start, c.span.Start-1)
		if err != nil {
			return "", err
		}
	}
	if newSpan.End > c.span.End {
		tail, err = m.fetchBlockRange(ctx, c.span.End+1, newSpan.End)
		if err != nil {
			return "", err
		}
	}

	newName := fileName(m.Prefix, newSpan)
	if err := m.writeAtomic(newName, func(w io.Writer) error {
		for _, part := range [][]byte{head, oldBytes, tail} {
			if _, err := w.Write(part); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return "", err
	}

	m.retire(oldPath, c.name)
	klog.V(4).Infof("cache: grew %s -> %s", c.name, newName)
	return newName, nil
}

// createFresh fetches request's full compressed range and writes it as a
// brand new span file.
func (m *Manager) createFresh(ctx context.Context, request Span) (string, error) {
	body, err := m.fetchBlockRange(ctx, request.Start, request.End)
	if err != nil {
		return "", err
	}
	name := fileName(m.Prefix, request)
	if err := m.writeAtomic(name, func(w io.Writer) error {
		_, err := w.Write(body)
		return err
	}); err != nil {
		return "", err
	}
	return name, nil
}

// fetchBlockRange fetches the compressed bytes spanning blocks [startBlock,
// endBlock] inclusive.
func (m *Manager) fetchBlockRange(ctx context.Context, startBlock, endBlock int) ([]byte, error) {
	start, err := m.BlockMap.CompressedStart(startBlock)
	if err != nil {
		return nil, err
	}
	end, err := m.BlockMap.CompressedEnd(endBlock)
	if err != nil {
		return nil, err
	}
	return m.Fetch(ctx, start, end-1)
}

// writeAtomic writes a span file via a uuid-named temp file in the same
// directory, then renames it into place, so a reader never observes a
// partially written span.
func (m *Manager) writeAtomic(name string, build func(io.Writer) error) error {
	tmpPath := filepath.Join(m.Dir, ".tmp-"+uuid.NewString())
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("cache: creating temp file: %w", err)
	}
	if err := build(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	finalPath := filepath.Join(m.Dir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache: renaming into place: %w", err)
	}
	return nil
}

// OpenSpanFile returns a reusable open handle to a span file Serve already
// resolved, for the extractor's local-read path over a compressed span.
// Every call must be paired with exactly one call of the returned release.
func (m *Manager) OpenSpanFile(path string) (*os.File, func(), error) {
	f, err := m.files.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { m.files.Release(path) }, nil
}

// Close releases every open span file handle. Call once at shutdown.
func (m *Manager) Close() {
	m.files.CloseAll()
}

// retire unlinks a superseded span file unless a reader's lock sidecar is
// present, in which case it drops a delete marker for Cleanup to honor
// later.
func (m *Manager) retire(path, name string) {
	m.files.Forget(path)
	lockPath := filepath.Join(m.Dir, lockName(name))
	if _, err := os.Stat(lockPath); err == nil {
		marker := filepath.Join(m.Dir, deleteMarkerName(name))
		if f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			f.Close()
		}
		return
	}
	os.Remove(path)
}

package extractor

import "sync/atomic"

// Counters tallies one extraction run, safe for concurrent use across
// workers: each worker accumulates into its own Counters, then Merge folds
// per-chunk cells together at the end, matching spec's "shared per-chunk
// cells, summed at the end" progress model.
type Counters struct {
	Requested int64 // identifiers asked for
	Found     int64 // index lines resolved
	Extracted int64 // entries written successfully
	Corrupted int64 // entries that failed decrypt/inflate/checksum
	NotFound  int64 // identifiers absent from the index
}

// AddRequested, AddFound, AddExtracted, AddCorrupted, AddNotFound are
// atomic increments, for use from worker goroutines sharing one *Counters.
func (c *Counters) AddRequested(n int64) { atomic.AddInt64(&c.Requested, n) }
func (c *Counters) AddFound(n int64)     { atomic.AddInt64(&c.Found, n) }
func (c *Counters) AddExtracted(n int64) { atomic.AddInt64(&c.Extracted, n) }
func (c *Counters) AddCorrupted(n int64) { atomic.AddInt64(&c.Corrupted, n) }
func (c *Counters) AddNotFound(n int64)  { atomic.AddInt64(&c.NotFound, n) }

// Merge folds other's counts into c, for combining per-chunk Counters after
// a parallel run.
func (c *Counters) Merge(other Counters) {
	c.AddRequested(other.Requested)
	c.AddFound(other.Found)
	c.AddExtracted(other.Extracted)
	c.AddCorrupted(other.Corrupted)
	c.AddNotFound(other.NotFound)
}

// Snapshot returns an atomically-consistent-enough point-in-time copy for
// reporting (final totals; not used mid-run for correctness).
func (c *Counters) Snapshot() Counters {
	return Counters{
		Requested: atomic.LoadInt64(&c.Requested),
		Found:     atomic.LoadInt64(&c.Found),
		Extracted: atomic.LoadInt64(&c.Extracted),
		Corrupted: atomic.LoadInt64(&c.Corrupted),
		NotFound:  atomic.LoadInt64(&c.NotFound),
	}
}

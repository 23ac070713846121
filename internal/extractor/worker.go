// Parallel extraction strategies: block mode fans out over identifier-list
// chunks, collected/merged modes fan out over pre-resolved Requests. Both
// shapes mirror internal/indexer's shard/errgroup/concatenate pattern:
// workers write to their own temp file, then temp files are concatenated in
// chunk order so cross-chunk output stays deterministic even though
// within-run-time ordering across chunks isn't.
package extractor

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

// ChunkIdentifiers splits ids into up to n roughly-equal contiguous slices,
// preserving order. Callers reading the identifier list from a file and
// wanting true byte-aligned chunks should split the file itself with
// internal/splitter.PlanOnTerminator (newline terminator) before converting
// each shard's lines to an []string and calling RunBlockMode once per shard.
func ChunkIdentifiers(ids []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	if len(ids) == 0 {
		return nil
	}
	if n > len(ids) {
		n = len(ids)
	}
	chunks := make([][]string, n)
	base := len(ids) / n
	rem := len(ids) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		chunks[i] = ids[start : start+size]
		start += size
	}
	return chunks
}

// chunkResult is one worker's output temp file plus its tallied Counters.
type chunkResult struct {
	tmpPath  string
	counters Counters
}

// RunBlockMode extracts identifiers in block mode: the identifier list is
// split into threads chunks, each worker independently resolves and fetches
// its own chunk (no cross-chunk adjacency batching), writing to its own temp
// file, which are concatenated to out in chunk order.
func RunBlockMode(ctx context.Context, ids []string, threads int, index io.ReaderAt, indexSize int64, flavor indexfmt.Flavor, cipher codec.CipherType, mode LookupMode, fetcher Fetcher, opts Options, out io.Writer) (Counters, error) {
	chunks := ChunkIdentifiers(ids, threads)
	return runChunked(ctx, len(chunks), threads, out, func(i int) (string, Counters, error) {
		var counters Counters
		requests, err := ResolveIdentifiers(index, indexSize, chunks[i], flavor, cipher, mode, false, &counters)
		if err != nil {
			return "", counters, err
		}
		tmpPath, err := writeRequestsToTemp(ctx, fmt.Sprintf("ffdb-extract-block-%d-*.tmp", i), fetcher, requests, opts, &counters)
		return tmpPath, counters, err
	})
}

// RunCollected extracts ids in collected mode: every identifier is resolved
// up front into one global list of Requests (adjacency-batched first when
// merged is true), which is then split evenly across threads workers.
func RunCollected(ctx context.Context, ids []string, threads int, index io.ReaderAt, indexSize int64, flavor indexfmt.Flavor, cipher codec.CipherType, mode LookupMode, merged bool, fetcher Fetcher, opts Options, out io.Writer) (Counters, error) {
	var lookupCounters Counters
	requests, err := ResolveIdentifiers(index, indexSize, ids, flavor, cipher, mode, merged, &lookupCounters)
	if err != nil {
		return lookupCounters, err
	}

	batches := chunkRequests(requests, threads)
	result, err := runChunked(ctx, len(batches), threads, out, func(i int) (string, Counters, error) {
		var counters Counters
		tmpPath, err := writeRequestsToTemp(ctx, fmt.Sprintf("ffdb-extract-collected-%d-*.tmp", i), fetcher, batches[i], opts, &counters)
		return tmpPath, counters, err
	})
	result.Merge(lookupCounters)
	return result, err
}

func chunkRequests(requests []Request, n int) [][]Request {
	if n < 1 {
		n = 1
	}
	if len(requests) == 0 {
		return nil
	}
	if n > len(requests) {
		n = len(requests)
	}
	chunks := make([][]Request, n)
	base := len(requests) / n
	rem := len(requests) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		chunks[i] = requests[start : start+size]
		start += size
	}
	return chunks
}

// writeRequestsToTemp extracts requests into a fresh temp file and returns
// its path, or "" if requests is empty (no file is created for an empty
// chunk).
func writeRequestsToTemp(ctx context.Context, pattern string, fetcher Fetcher, requests []Request, opts Options, counters *Counters) (string, error) {
	if len(requests) == 0 {
		return "", nil
	}
	tf, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("extractor: creating chunk temp file: %w", err)
	}
	if err := ExtractRequests(ctx, fetcher, requests, opts, tf, counters); err != nil {
		tf.Close()
		os.Remove(tf.Name())
		return "", err
	}
	if err := tf.Close(); err != nil {
		os.Remove(tf.Name())
		return "", fmt.Errorf("extractor: closing chunk temp file: %w", err)
	}
	return tf.Name(), nil
}

// runChunked runs work(i) for i in [0,n) across up to threads goroutines via
// errgroup, same idiom as internal/indexer's shard fan-out, then
// concatenates each worker's temp file to out in index order and cleans
// them up.
func runChunked(ctx context.Context, n, threads int, out io.Writer, work func(i int) (tmpPath string, counters Counters, err error)) (Counters, error) {
	if threads < 1 {
		threads = 1
	}
	results := make([]chunkResult, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tmpPath, counters, err := work(i)
			if err != nil {
				return fmt.Errorf("extractor: chunk %d: %w", i, err)
			}
			results[i] = chunkResult{tmpPath: tmpPath, counters: counters}
			return nil
		})
	}

	var total Counters
	if err := g.Wait(); err != nil {
		for _, r := range results {
			if r.tmpPath != "" {
				os.Remove(r.tmpPath)
			}
		}
		return total, err
	}

	for _, r := range results {
		total.Merge(r.counters)
		if r.tmpPath == "" {
			continue
		}
		if err := appendFile(out, r.tmpPath); err != nil {
			for _, rr := range results {
				if rr.tmpPath != "" {
					os.Remove(rr.tmpPath)
				}
			}
			return total, err
		}
	}
	for _, r := range results {
		if r.tmpPath != "" {
			os.Remove(r.tmpPath)
		}
	}
	return total, nil
}

func appendFile(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("extractor: reopening chunk temp file %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(out, f); err != nil {
		return fmt.Errorf("extractor: appending chunk temp file %s: %w", path, err)
	}
	return nil
}

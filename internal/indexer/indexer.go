// Package indexer drives the C6 Indexer: it splits a flatfile into
// byte-range shards (internal/splitter), runs internal/shardbuild workers
// over them in parallel, then stitches the per-shard results — index lines
// and, when compressing/encrypting, rewritten flatfile spans — back into one
// coherent sorted index and one coherent flatfile.
//
// Structurally this mirrors preindex.go's shard/sort/merge shape, re-keyed
// from hash sharding to byte-range sharding since flatfile shards are
// contiguous ranges, not hash buckets.
package indexer

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
	"github.com/flatfiledb/ffdb/internal/shardbuild"
	"github.com/flatfiledb/ffdb/internal/splitter"
)

const (
	// MinBlockSize and MaxBlockSize bound the auto-tuned blocksize, matching
	// indexer.py's MINBLOCKSIZE/MAXBLOCKSIZE.
	MinBlockSize int64 = 100 * 1000
	MaxBlockSize int64 = 50 * 1000 * 1000
)

// Config configures a full indexing run.
type Config struct {
	Patterns      shardbuild.PatternSet
	AllMatches    bool
	Terminator    []byte // already anchor-rewritten, see splitter.EncodeTerminator
	NoPos         bool
	Flavor        indexfmt.Flavor
	Cipher        codec.CipherType
	Key           []byte // required when Flavor.HasEncryption()
	CompressLevel int
	Checksum      bool

	// Unsorted skips both the per-shard sort and the cross-shard k-way
	// merge, concatenating shard output in shard order instead. The
	// resulting index is searchable only after a separate sort pass.
	Unsorted bool

	// Offset is added to every emitted position, on top of per-shard
	// stitching offsets. Lets an index be built for a flatfile that will
	// later be appended after existing content at a known byte offset.
	Offset int64

	// Threads is the shard worker concurrency. <= 1 runs single-threaded
	// over the whole file (no splitting).
	Threads int

	// BlockSize is the target shard size in bytes. If zero and Threads > 1,
	// it is derived from the input file size via CalculateBlockSize.
	BlockSize int64
}

// Output summarizes a completed run.
type Output struct {
	Lines        []string
	EntriesCount int
	SkippedCount int
	ShardCount   int
}

// shardResult is one worker's output, plus the rewritten-flatfile temp file
// it wrote to, if any.
type shardResult struct {
	res     *shardbuild.Result
	tmpPath string
}

// CalculateBlockSize derives a shard target size from fileSize and threads,
// clamped to [MinBlockSize, MaxBlockSize], matching indexer.py's
// calculate_blocksize: ceil(fileSize/threads), used when -t is given
// without an explicit -b.
func CalculateBlockSize(fileSize int64, threads int) int64 {
	if threads < 1 {
		threads = 1
	}
	size := (fileSize + int64(threads) - 1) / int64(threads)
	if size < MinBlockSize {
		size = MinBlockSize
	}
	if size > MaxBlockSize {
		size = MaxBlockSize
	}
	return size
}

// Run indexes the flatfile at inputPath per cfg. If cfg.Flavor requires a
// rewritten flatfile (compression and/or encryption), the rewritten bytes
// are written to outputPath; otherwise outputPath is ignored and positions
// reference inputPath directly.
func Run(ctx context.Context, inputPath, outputPath string, cfg Config) (*Output, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("indexer: opening input: %w", err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return nil, fmt.Errorf("indexer: stat input: %w", err)
	}
	fileSize := fi.Size()

	rewriting := cfg.Flavor.HasCompression() || cfg.Flavor.HasEncryption()

	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	blockSize := cfg.BlockSize
	if threads > 1 && blockSize == 0 {
		blockSize = CalculateBlockSize(fileSize, threads)
	}

	var shards []splitter.Shard
	if threads <= 1 {
		shards = []splitter.Shard{{Start: 0, Size: fileSize}}
	} else {
		shards, err = splitter.PlanOnTerminator(in, blockSize, cfg.Terminator)
		if err != nil {
			return nil, fmt.Errorf("indexer: planning shards: %w", err)
		}
	}

	results := make([]shardResult, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)

	for i, shard := range shards {
		i, shard := i, shard
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sr := io.NewSectionReader(in, shard.Start, shard.Size)

			var out io.Writer
			var tmpFile *os.File
			if rewriting {
				tf, err := os.CreateTemp("", fmt.Sprintf("ffdb-shard-%d-*.tmp", i))
				if err != nil {
					return fmt.Errorf("indexer: creating shard temp file: %w", err)
				}
				tmpFile = tf
				out = tf
			}

			opts := shardbuild.Options{
				Patterns:      cfg.Patterns,
				AllMatches:    cfg.AllMatches,
				Terminator:    cfg.Terminator,
				NoPos:         cfg.NoPos,
				Flavor:        cfg.Flavor,
				Cipher:        cfg.Cipher,
				Key:           cfg.Key,
				CompressLevel: cfg.CompressLevel,
				Checksum:      cfg.Checksum,
				Unsorted:      cfg.Unsorted,
			}
			res, err := shardbuild.ProcessShard(sr, out, opts)
			if err != nil {
				if tmpFile != nil {
					tmpFile.Close()
					os.Remove(tmpFile.Name())
				}
				return fmt.Errorf("indexer: shard %d: %w", i, err)
			}

			var tmpPath string
			if tmpFile != nil {
				if err := tmpFile.Close(); err != nil {
					return fmt.Errorf("indexer: shard %d: closing temp file: %w", i, err)
				}
				tmpPath = tmpFile.Name()
			}
			results[i] = shardResult{res: res, tmpPath: tmpPath}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, r := range results {
			if r.tmpPath != "" {
				os.Remove(r.tmpPath)
			}
		}
		return nil, err
	}

	out := &Output{ShardCount: len(shards)}
	shiftedLines := make([][]string, len(shards))

	var cumulative int64
	for i, r := range results {
		out.EntriesCount += r.res.EntriesCount
		out.SkippedCount += r.res.SkippedCount

		shardOffset := cfg.Offset + cumulative
		lines, err := shiftLines(r.res.Lines, cfg.Flavor, shardOffset)
		if err != nil {
			return nil, fmt.Errorf("indexer: shifting shard %d positions: %w", i, err)
		}
		shiftedLines[i] = lines

		if rewriting {
			cumulative += r.res.OutputSize
		} else {
			cumulative += shards[i].Size
		}
	}

	if cfg.Unsorted {
		for _, lines := range shiftedLines {
			out.Lines = append(out.Lines, lines...)
		}
	} else {
		out.Lines = kWayMergeStrings(shiftedLines)
	}

	if rewriting {
		if err := concatenateShards(results, outputPath); err != nil {
			return nil, err
		}
	}
	for _, r := range results {
		if r.tmpPath != "" {
			os.Remove(r.tmpPath)
		}
	}

	return out, nil
}

// shiftLines re-bases every position-field-carrying line in lines by offset.
// NoPos lines (bare identifiers, no field separator) pass through unchanged.
func shiftLines(lines []string, flavor indexfmt.Flavor, offset int64) ([]string, error) {
	if offset == 0 {
		return lines, nil
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		if flavor == indexfmt.FlavorNoPos {
			out[i] = line
			continue
		}
		cols := strings.SplitN(line, indexfmt.FieldSep, 3)
		if len(cols) < 2 {
			return nil, fmt.Errorf("indexer: malformed index line %q", line)
		}
		shifted, err := indexfmt.ShiftPositionField(flavor, cols[1], offset)
		if err != nil {
			return nil, err
		}
		if len(cols) == 3 {
			out[i] = cols[0] + indexfmt.FieldSep + shifted + indexfmt.FieldSep + cols[2]
		} else {
			out[i] = cols[0] + indexfmt.FieldSep + shifted
		}
	}
	return out, nil
}

// concatenateShards appends each shard's rewritten temp file, in shard
// order, to outputPath.
func concatenateShards(results []shardResult, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("indexer: creating output file: %w", err)
	}
	defer f.Close()

	for i, r := range results {
		if r.tmpPath == "" {
			continue
		}
		in, err := os.Open(r.tmpPath)
		if err != nil {
			return fmt.Errorf("indexer: reopening shard %d temp file: %w", i, err)
		}
		_, err = io.Copy(f, in)
		in.Close()
		if err != nil {
			return fmt.Errorf("indexer: appending shard %d: %w", i, err)
		}
	}
	return f.Sync()
}

// mergeItem is one candidate line in the k-way merge, tagged with which
// source list it came from so the heap can pull the next line from the
// same list once its current head is consumed.
type mergeItem struct {
	line   string
	list   int
	index  int
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return h[i].line < h[j].line }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// kWayMergeStrings merges lists, each already sorted, into one sorted slice,
// grounded on indexer.py's final heapq.merge pass over per-chunk index
// files.
func kWayMergeStrings(lists [][]string) []string {
	var total int
	for _, l := range lists {
		total += len(l)
	}
	out := make([]string, 0, total)

	h := make(mergeHeap, 0, len(lists))
	for li, l := range lists {
		if len(l) > 0 {
			h = append(h, mergeItem{line: l[0], list: li, index: 0})
		}
	}
	heap.Init(&h)

	for h.Len() > 0 {
		item := heap.Pop(&h).(mergeItem)
		out = append(out, item.line)
		next := item.index + 1
		if next < len(lists[item.list]) {
			heap.Push(&h, mergeItem{line: lists[item.list][next], list: item.list, index: next})
		}
	}
	return out
}

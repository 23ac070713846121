// Package deleter drives the C11 Deleter: given an identifier list, it
// removes the matching entries from a flatfile and rewrites the positional
// index to match, without touching any surviving entry's byte content —
// only positions shift.
//
// This is a two-phase, whole-file operation (unlike C6's indexer, which
// builds a flatfile/index pair from scratch): collect positions to remove,
// stream-rewrite the flatfile skipping those ranges, then stream-rewrite the
// index dropping the removed lines and shifting the survivors left by the
// cumulative bytes removed before them. Grounded on remover.py's
// collect_entries_to_delete / delete_entries / update_index_after_deletions
// pipeline.
package deleter

import (
	"context"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/extractor"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

// Config configures a deletion run.
type Config struct {
	Flavor indexfmt.Flavor
	Cipher codec.CipherType
	Key    []byte // unused by deletion itself, accepted for symmetry with other commands
	Mode   extractor.LookupMode

	// Threads controls whether the index rewrite is parallelized. <= 1
	// rewrites the index in a single pass.
	Threads   int
	BlockSize int64 // shard target size for the parallel index rewrite; <= 0 derives index size / Threads
}

// Stats summarizes a completed deletion run.
type Stats struct {
	Requested      int
	NotFound       int
	EntriesRemoved int
	BytesRemoved   uint64
	FlatfileBefore int64
	FlatfileAfter  int64
	IndexKept      int
	IndexDropped   int
}

// Run removes every entry named by ids from the flatfile at flatfilePath
// (per index indexPath), writing the trimmed flatfile to outFlatfilePath and
// the re-based index to outIndexPath. It never modifies the inputs in place.
func Run(ctx context.Context, flatfilePath, indexPath string, ids []string, outFlatfilePath, outIndexPath string, cfg Config) (Stats, error) {
	ff, err := os.Open(flatfilePath)
	if err != nil {
		return Stats{}, fmt.Errorf("deleter: opening flatfile: %w", err)
	}
	defer ff.Close()
	ffInfo, err := ff.Stat()
	if err != nil {
		return Stats{}, fmt.Errorf("deleter: stat flatfile: %w", err)
	}

	idx, err := os.Open(indexPath)
	if err != nil {
		return Stats{}, fmt.Errorf("deleter: opening index: %w", err)
	}
	defer idx.Close()
	idxInfo, err := idx.Stat()
	if err != nil {
		return Stats{}, fmt.Errorf("deleter: stat index: %w", err)
	}

	deletions, err := CollectDeletions(idx, idxInfo.Size(), ids, cfg.Flavor, cfg.Cipher, cfg.Mode)
	if err != nil {
		return Stats{}, fmt.Errorf("deleter: collecting deletions: %w", err)
	}
	klog.Infof("deleter: %d identifiers requested, %d resolved to %d distinct positions, %d not found",
		len(ids), len(ids)-deletions.NotFound, len(deletions.SortedPositions), deletions.NotFound)

	if len(deletions.SortedPositions) == 0 {
		return Stats{}, fmt.Errorf("deleter: no matching entries to delete")
	}

	outFF, err := os.Create(outFlatfilePath)
	if err != nil {
		return Stats{}, fmt.Errorf("deleter: creating output flatfile: %w", err)
	}
	newSize, err := DeleteEntries(ff, ffInfo.Size(), outFF, deletions)
	if cerr := outFF.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outFlatfilePath)
		return Stats{}, fmt.Errorf("deleter: rewriting flatfile: %w", err)
	}
	klog.Infof("deleter: flatfile %d bytes -> %d bytes (%d removed)", ffInfo.Size(), newSize, deletions.TotalBytes())

	var kept, dropped int
	if cfg.Threads > 1 {
		blockSize := cfg.BlockSize
		if blockSize <= 0 {
			blockSize = idxInfo.Size() / int64(cfg.Threads)
			if blockSize <= 0 {
				blockSize = idxInfo.Size()
			}
		}
		kept, dropped, err = RewriteIndexParallel(ctx, indexPath, outIndexPath, cfg.Flavor, cfg.Cipher, deletions, cfg.Threads, blockSize)
	} else {
		var out *os.File
		out, err = os.Create(outIndexPath)
		if err == nil {
			if _, serr := idx.Seek(0, 0); serr != nil {
				err = serr
			} else {
				kept, dropped, err = RewriteIndex(idx, out, cfg.Flavor, cfg.Cipher, deletions)
			}
			if cerr := out.Close(); err == nil {
				err = cerr
			}
		}
	}
	if err != nil {
		return Stats{}, fmt.Errorf("deleter: rewriting index: %w", err)
	}
	klog.Infof("deleter: index %d lines kept, %d dropped", kept, dropped)

	return Stats{
		Requested:      len(ids),
		NotFound:       deletions.NotFound,
		EntriesRemoved: len(deletions.SortedPositions),
		BytesRemoved:   deletions.TotalBytes(),
		FlatfileBefore: ffInfo.Size(),
		FlatfileAfter:  newSize,
		IndexKept:      kept,
		IndexDropped:   dropped,
	}, nil
}

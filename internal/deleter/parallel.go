package deleter

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
	"github.com/flatfiledb/ffdb/internal/splitter"
)

// RewriteIndexParallel splits indexPath into line-aligned shards and applies
// RewriteIndex to each shard concurrently, then concatenates the shard
// outputs in order. Mirrors remover.py's update_index_wrapper, which splits
// the index into chunks via split_file and hands each to a multiprocessing
// Pool worker running the same per-line logic as the serial path, before
// reassembling with print_subfiles.
func RewriteIndexParallel(ctx context.Context, indexPath, outPath string, flavor indexfmt.Flavor, cipher codec.CipherType, d Deletions, threads int, blockSize int64) (kept, dropped int, err error) {
	in, err := os.Open(indexPath)
	if err != nil {
		return 0, 0, fmt.Errorf("deleter: opening index: %w", err)
	}
	defer in.Close()

	shards, err := splitter.Plan(in, blockSize)
	if err != nil {
		return 0, 0, fmt.Errorf("deleter: planning index shards: %w", err)
	}
	if len(shards) <= 1 {
		out, err := os.Create(outPath)
		if err != nil {
			return 0, 0, fmt.Errorf("deleter: creating output index: %w", err)
		}
		defer out.Close()
		kept, dropped, err = RewriteIndex(io.NewSectionReader(in, 0, mustSize(in)), out, flavor, cipher, d)
		if err != nil {
			return 0, 0, err
		}
		return kept, dropped, out.Sync()
	}

	type shardOutcome struct {
		tmpPath       string
		kept, dropped int
	}
	outcomes := make([]shardOutcome, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)

	for i, shard := range shards {
		i, shard := i, shard
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tf, err := os.CreateTemp("", fmt.Sprintf("ffdb-reindex-%d-*.tmp", i))
			if err != nil {
				return fmt.Errorf("deleter: creating shard temp file: %w", err)
			}
			sr := io.NewSectionReader(in, shard.Start, shard.Size)
			k, dr, err := RewriteIndex(sr, tf, flavor, cipher, d)
			if cerr := tf.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(tf.Name())
				return fmt.Errorf("deleter: reindex shard %d: %w", i, err)
			}
			outcomes[i] = shardOutcome{tmpPath: tf.Name(), kept: k, dropped: dr}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, o := range outcomes {
			if o.tmpPath != "" {
				os.Remove(o.tmpPath)
			}
		}
		return 0, 0, err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return 0, 0, fmt.Errorf("deleter: creating output index: %w", err)
	}
	defer out.Close()

	for i, o := range outcomes {
		kept += o.kept
		dropped += o.dropped

		sf, err := os.Open(o.tmpPath)
		if err != nil {
			return 0, 0, fmt.Errorf("deleter: reopening shard %d output: %w", i, err)
		}
		_, err = io.Copy(out, sf)
		sf.Close()
		os.Remove(o.tmpPath)
		if err != nil {
			return 0, 0, fmt.Errorf("deleter: appending shard %d output: %w", i, err)
		}
	}

	return kept, dropped, out.Sync()
}

func mustSize(f *os.File) int64 {
	fi, err := f.Stat()
	if err != nil {
		return 0
	}
	return fi.Size()
}

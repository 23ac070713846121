package main

import (
	"path/filepath"

	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8/decor"
	"k8s.io/klog/v2"

	"github.com/flatfiledb/ffdb/internal/deleter"
)

func newCmd_Remove() *cli.Command {
	var (
		flatfile   string
		indexPath  string
		listFile   string
		ids        cli.StringSlice
		outDir     string
		threads    int
		blockSize  int64
		lookupMode string
	)

	return &cli.Command{
		Name:        "remove",
		Description: "Remove entries by identifier from a flatfile and rewrite its index.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "flatfile", Aliases: []string{"f"}, Required: true, Destination: &flatfile, Usage: "flatfile to remove entries from"},
			&cli.StringFlag{Name: "index", Aliases: []string{"i"}, Required: true, Destination: &indexPath, Usage: "positional index for flatfile"},
			&cli.StringFlag{Name: "list-file", Aliases: []string{"l"}, Destination: &listFile, Usage: "file of newline-delimited identifiers to remove"},
			&cli.StringSliceFlag{Name: "id", Aliases: []string{"s"}, Destination: &ids, Usage: "identifier to remove (repeatable)"},
			&cli.StringFlag{Name: "output-dir", Aliases: []string{"o"}, Destination: &outDir, Usage: "directory to write the trimmed flatfile and index into (default: alongside flatfile)"},
			&cli.IntFlag{Name: "threads", Aliases: []string{"t"}, Value: 1, Destination: &threads, Usage: "parallel index-rewrite workers"},
			&cli.Int64Flag{Name: "blocksize", Aliases: []string{"b"}, Destination: &blockSize, Usage: "target shard size in bytes for the parallel index rewrite"},
			&cli.StringFlag{Name: "lookup-mode", Value: "first", Destination: &lookupMode, Usage: "first|last|duplicates: which index line(s) an ambiguous identifier resolves to"},
		},
		Action: func(c *cli.Context) error {
			identifiers, err := collectIdentifiers(ids.Value(), listFile)
			if err != nil {
				return err
			}
			mode, err := parseLookupMode(lookupMode)
			if err != nil {
				return err
			}

			meta, err := classifyIndexFile(indexPath)
			if err != nil {
				return err
			}
			cipher, err := meta.cipherType()
			if err != nil {
				return err
			}

			dir := outDir
			if dir == "" {
				dir = filepath.Dir(flatfile)
			}
			outFF := filepath.Join(dir, "flatfile.trimmed")
			outIdx := filepath.Join(dir, "index.trimmed")

			stats, err := deleter.Run(c.Context, flatfile, indexPath, identifiers, outFF, outIdx, deleter.Config{
				Flavor:    meta.flavor,
				Cipher:    cipher,
				Mode:      mode,
				Threads:   threads,
				BlockSize: blockSize,
			})
			if err != nil {
				return err
			}

			klog.Infof("ffdb remove: %d requested, %d not found, %d entries removed (% .2f); flatfile % .2f -> % .2f; index %d kept / %d dropped",
				stats.Requested, stats.NotFound, stats.EntriesRemoved, decor.SizeB1000(int64(stats.BytesRemoved)),
				decor.SizeB1000(stats.FlatfileBefore), decor.SizeB1000(stats.FlatfileAfter), stats.IndexKept, stats.IndexDropped)
			klog.Infof("ffdb remove: wrote %s and %s", outFF, outIdx)
			return nil
		},
	}
}

package main

import (
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/flatfiledb/ffdb/internal/ffdberr"
	"github.com/flatfiledb/ffdb/internal/merger"
)

func newCmd_Merge() *cli.Command {
	var (
		baseFF   string
		baseIdx  string
		deltaFF  string
		deltaIdx string
		outDir   string
		dryRun   bool
		checksum bool
	)

	return &cli.Command{
		Name:        "merge",
		Description: "Append a delta flatfile and its index onto a base flatfile, producing one merged flatfile and index.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base-flatfile", Aliases: []string{"f"}, Required: true, Destination: &baseFF, Usage: "base flatfile path"},
			&cli.StringFlag{Name: "base-index", Aliases: []string{"i"}, Required: true, Destination: &baseIdx, Usage: "base index path"},
			&cli.StringFlag{Name: "delta-flatfile", Aliases: []string{"e"}, Required: true, Destination: &deltaFF, Usage: "delta flatfile path, appended after the base"},
			&cli.StringFlag{Name: "delta-index", Aliases: []string{"n"}, Required: true, Destination: &deltaIdx, Usage: "delta index path"},
			&cli.StringFlag{Name: "output-dir", Aliases: []string{"o"}, Destination: &outDir, Usage: "directory to write merged.flatfile and merged.index into (default: alongside base-flatfile)"},
			&cli.BoolFlag{Name: "dry-run", Aliases: []string{"d"}, Destination: &dryRun, Usage: "only check flavor/cipher/keysize/checksum compatibility, write nothing"},
			&cli.BoolFlag{Name: "checksum", Aliases: []string{"c"}, Destination: &checksum, Usage: "accepted for compatibility; checksum presence is inferred from the two indexes"},
		},
		Action: func(c *cli.Context) error {
			if checksum {
				klog.V(1).Info("ffdb merge: --checksum is a no-op; checksum presence is read from the indexes themselves")
			}

			dir := outDir
			if dir == "" {
				dir = filepath.Dir(baseFF)
			}
			newFF := filepath.Join(dir, "merged.flatfile")
			newIdx := filepath.Join(dir, "merged.index")

			if dryRun {
				baseMeta, err := classifyIndexFile(baseIdx)
				if err != nil {
					return err
				}
				deltaMeta, err := classifyIndexFile(deltaIdx)
				if err != nil {
					return err
				}
				if baseMeta != deltaMeta {
					return ffdberr.Exitf(ffdberr.ExitArg, "ffdb merge: incompatible indexes: base=%+v delta=%+v", baseMeta, deltaMeta)
				}
				klog.Info("ffdb merge: indexes are compatible")
				return nil
			}

			res, err := merger.Merge(baseFF, baseIdx, deltaFF, deltaIdx, newFF, newIdx)
			if err != nil {
				return err
			}

			klog.Infof("ffdb merge: %s entries merged into %s / %s", humanize.Comma(int64(res.ShiftedCount)), newFF, newIdx)
			return nil
		},
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/flatfiledb/ffdb/internal/indexer"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

func newCmd_Index() *cli.Command {
	var (
		flatfile      string
		patterns      cli.StringSlice
		joined        cli.StringSlice
		terminator    string
		allMatches    bool
		keysize       int
		passphrase    string
		compressLevel int
		checksum      bool
		unsorted      bool
		nopos         bool
		offset        int64
		threads       int
		blockSize     int64
		outDir        string
	)

	return &cli.Command{
		Name:        "index",
		Description: "Scan a flatfile for entries and build its positional index.",
		ArgsUsage:   "",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "flatfile", Aliases: []string{"f"}, Required: true, Destination: &flatfile, Usage: "path to the flatfile to index"},
			&cli.StringSliceFlag{Name: "pattern", Aliases: []string{"i"}, Destination: &patterns, Usage: "identifier-extracting regex (repeatable); first match per entry unless -a"},
			&cli.StringSliceFlag{Name: "joined-pattern", Aliases: []string{"j"}, Destination: &joined, Usage: "regex whose capture groups concatenate into one identifier (repeatable)"},
			&cli.StringFlag{Name: "terminator", Aliases: []string{"e"}, Value: defaultTerminator, Destination: &terminator, Usage: "entry terminator pattern, line-anchored"},
			&cli.BoolFlag{Name: "all-matches", Aliases: []string{"a"}, Destination: &allMatches, Usage: "extract every match of every pattern, not just the first"},
			&cli.IntFlag{Name: "keysize", Aliases: []string{"k"}, Destination: &keysize, Usage: "AES key size in bytes (16, 24, or 32) to enable per-entry encryption"},
			&cli.StringFlag{Name: "passphrase", Aliases: []string{"p"}, Destination: &passphrase, Usage: "passphrase to derive the AES key from"},
			&cli.IntFlag{Name: "compress-level", Aliases: []string{"c"}, Destination: &compressLevel, Usage: "DEFLATE level (1-9) to enable per-entry compression"},
			&cli.BoolFlag{Name: "checksum", Aliases: []string{"x"}, Destination: &checksum, Usage: "emit a CRC32 checksum column"},
			&cli.BoolFlag{Name: "unsorted", Aliases: []string{"u"}, Destination: &unsorted, Usage: "emit shard output by simple concatenation, skipping the sort; the result needs a separate sort pass before it is searchable"},
			&cli.BoolFlag{Name: "nopos", Aliases: []string{"n"}, Destination: &nopos, Usage: "emit identifier-only lines with no position field"},
			&cli.Int64Flag{Name: "offset", Aliases: []string{"o"}, Destination: &offset, Usage: "add this offset to every emitted position"},
			&cli.IntFlag{Name: "threads", Aliases: []string{"t"}, Value: 1, Destination: &threads, Usage: "parallel shard workers"},
			&cli.Int64Flag{Name: "blocksize", Aliases: []string{"b"}, Destination: &blockSize, Usage: "target shard size in bytes (auto-derived from -t if omitted)"},
			&cli.StringFlag{Name: "output-dir", Destination: &outDir, Usage: "directory to write the rewritten flatfile into, when compression or encryption is enabled (default: alongside the input)"},
		},
		Action: func(c *cli.Context) error {
			if unsorted {
				klog.Warning("ffdb: --unsorted: index is emitted by concatenation, not sorted; sortedsearch needs a sorted index")
			}

			patternSet, err := buildPatternSet(patterns.Value(), joined.Value())
			if err != nil {
				return err
			}

			cipher, key, err := resolveCipher(passphrase, keysize)
			if err != nil {
				return err
			}

			flavor := indexfmt.FlavorPlain
			switch {
			case nopos:
				flavor = indexfmt.FlavorNoPos
			case compressLevel > 0 && keysize > 0:
				flavor = indexfmt.FlavorBoth
			case compressLevel > 0:
				flavor = indexfmt.FlavorDeflate
			case keysize > 0:
				flavor = indexfmt.FlavorEncrypt
			}

			outputPath := ""
			if flavor.HasCompression() || flavor.HasEncryption() {
				dir := outDir
				if dir == "" {
					dir = filepath.Dir(flatfile)
				}
				ext := ".xz"
				if flavor.HasEncryption() {
					ext = ".enc"
				}
				outputPath = filepath.Join(dir, filepath.Base(flatfile)+ext)
			}

			cfg := indexer.Config{
				Patterns:      patternSet,
				AllMatches:    allMatches,
				Terminator:    resolveTerminator(terminator),
				NoPos:         nopos,
				Flavor:        flavor,
				Cipher:        cipher,
				Key:           key,
				CompressLevel: compressLevel,
				Checksum:      checksum,
				Unsorted:      unsorted,
				Offset:        offset,
				Threads:       threads,
				BlockSize:     blockSize,
			}

			out, err := indexer.Run(c.Context, flatfile, outputPath, cfg)
			if err != nil {
				return err
			}

			w := os.Stdout
			for _, line := range out.Lines {
				if _, err := fmt.Fprintln(w, line); err != nil {
					return err
				}
			}

			klog.Infof("ffdb index: %s entries, %s skipped (no identifier), %d shards",
				humanize.Comma(int64(out.EntriesCount)), humanize.Comma(int64(out.SkippedCount)), out.ShardCount)
			if outputPath != "" {
				klog.Infof("ffdb index: rewritten flatfile written to %s", outputPath)
			}
			return nil
		},
	}
}

package main

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/flatfiledb/ffdb/internal/extractor"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
	"github.com/flatfiledb/ffdb/internal/httpfetch"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

func newCmd_Extract() *cli.Command {
	var (
		flatfile   string
		indexPath  string
		ids        cli.StringSlice
		listFile   string
		output     string
		merge      bool
		xsanity    bool
		passphrase string
		useCache   bool
		cacheDir   string
		gzIndex    string
		gzTool     bool
		raw        bool
		threads    int
		lookupMode string
	)

	return &cli.Command{
		Name:        "extract",
		Description: "Extract entries by identifier from a flatfile, local or remote.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "flatfile", Aliases: []string{"f"}, Required: true, Destination: &flatfile, Usage: "local path or http(s) URL of the flatfile"},
			&cli.StringFlag{Name: "index", Aliases: []string{"i"}, Required: true, Destination: &indexPath, Usage: "path to the positional index"},
			&cli.StringSliceFlag{Name: "id", Aliases: []string{"s"}, Destination: &ids, Usage: "identifier to extract (repeatable)"},
			&cli.StringFlag{Name: "list-file", Aliases: []string{"l"}, Destination: &listFile, Usage: "file of newline-delimited identifiers to extract"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Destination: &output, Usage: "output path (default stdout)"},
			&cli.BoolFlag{Name: "merge-adjacent", Aliases: []string{"m"}, Destination: &merge, Usage: "coalesce adjacent entries into single fetches"},
			&cli.BoolFlag{Name: "xsanity", Aliases: []string{"x"}, Destination: &xsanity, Usage: "verify each entry's CRC32 against the index checksum"},
			&cli.StringFlag{Name: "passphrase", Aliases: []string{"p"}, Destination: &passphrase, Usage: "passphrase to derive the AES key from, for encrypted indexes"},
			&cli.BoolFlag{Name: "cache", Aliases: []string{"c"}, Destination: &useCache, Usage: "cache downloaded compressed spans on disk across runs"},
			&cli.StringFlag{Name: "cache-dir", Aliases: []string{"C"}, Destination: &cacheDir, Usage: "override the cache directory (default TMPDIR/tmpEXTRACTcache/<basename>)"},
			&cli.StringFlag{Name: "gzindex", Aliases: []string{"g"}, Destination: &gzIndex, Usage: "path to a .gzi BGZF sidecar or a gztool index, when the flatfile is whole-file gzipped"},
			&cli.BoolFlag{Name: "gztool", Destination: &gzTool, Usage: "treat --gzindex as a gztool variable-stride index instead of a .gzi BGZF sidecar"},
			&cli.BoolFlag{Name: "raw", Aliases: []string{"r"}, Destination: &raw, Usage: "skip decrypt/inflate, emit stored bytes as-is"},
			&cli.IntFlag{Name: "threads", Aliases: []string{"t"}, Value: 1, Destination: &threads, Usage: "parallel extraction workers"},
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
			if meta.flavor == indexfmt.FlavorNoPos {
				return ffdberr.Exit(ffdberr.ExitArg, ffdberr.ErrMalformedIndex)
			}
			cipher, err := meta.cipherType()
			if err != nil {
				return ffdberr.Exit(ffdberr.ExitArg, err)
			}

			var key []byte
			if meta.flavor.HasEncryption() {
				if passphrase == "" {
					return ffdberr.Exitf(ffdberr.ExitArg, "ffdb: index is encrypted (%s); -p/--passphrase is required", meta.cipherName)
				}
				_, key, err = resolveCipher(passphrase, meta.keysize)
				if err != nil {
					return err
				}
			}

			idxFile, err := os.Open(indexPath)
			if err != nil {
				return ffdberr.Exitf(ffdberr.ExitFileNotFound, "ffdb: opening index: %v", err)
			}
			defer idxFile.Close()
			idxInfo, err := idxFile.Stat()
			if err != nil {
				return err
			}

			client := httpfetch.NewClient()
			fetcher, cleanupFetcher, err := buildFetcher(c.Context, fetcherOptions{
				source:      flatfile,
				gzIndexPath: gzIndex,
				gzToolMode:  gzTool,
				useCache:    useCache,
				cacheDir:    cacheDir,
			}, client)
			if err != nil {
				return err
			}
			defer cleanupFetcher()

			out := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			opts := extractor.Options{Flavor: meta.flavor, Key: key, XSanity: xsanity, Raw: raw}

			counters, err := extractor.RunCollected(c.Context, identifiers, threads, idxFile, idxInfo.Size(), meta.flavor, cipher, mode, merge, fetcher, opts, out)
			if err != nil {
				return err
			}

			snap := counters.Snapshot()
			klog.Infof("ffdb extract: %s requested, %s found, %s extracted, %s corrupted, %s not found",
				humanize.Comma(snap.Requested), humanize.Comma(snap.Found), humanize.Comma(snap.Extracted),
				humanize.Comma(snap.Corrupted), humanize.Comma(snap.NotFound))
			return nil
		},
	}
}

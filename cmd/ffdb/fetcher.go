package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/flatfiledb/ffdb/internal/blockmap"
	"github.com/flatfiledb/ffdb/internal/cache"
	"github.com/flatfiledb/ffdb/internal/extractor"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
	"github.com/flatfiledb/ffdb/internal/httpfetch"
)

// isRemote reports whether source names an HTTP(S) URL rather than a local
// path. FTP is explicitly rejected per the Range-fetch contract.
func isRemote(source string) (bool, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return true, nil
	case strings.HasPrefix(source, "ftp://"):
		return false, ffdberr.Exitf(ffdberr.ExitArg, "ffdb: ftp:// sources are not supported")
	default:
		return false, nil
	}
}

// fetcherOptions bundles the flags that determine which extractor.Fetcher
// strategy to build.
type fetcherOptions struct {
	source      string
	gzIndexPath string
	gzToolMode  bool // gzIndexPath is a gztool variable-stride index rather than a .gzi BGZF sidecar
	useCache    bool
	cacheDir    string
}

// buildFetcher resolves opts into a concrete extractor.Fetcher, and a
// cleanup func the caller should defer.
func buildFetcher(ctx context.Context, opts fetcherOptions, client *http.Client) (extractor.Fetcher, func(), error) {
	remote, err := isRemote(opts.source)
	if err != nil {
		return nil, func() {}, err
	}

	if opts.gzIndexPath == "" {
		if remote {
			return extractor.RemotePlain{Client: client, URL: opts.source}, func() {}, nil
		}
		f, err := os.Open(opts.source)
		if err != nil {
			return nil, func() {}, ffdberr.Exitf(ffdberr.ExitFileNotFound, "ffdb: opening flatfile: %v", err)
		}
		return extractor.LocalPlain{File: f}, func() { f.Close() }, nil
	}

	var compressedSize int64
	if remote {
		compressedSize, err = httpfetch.ContentLength(ctx, client, opts.source)
		if err != nil {
			return nil, func() {}, err
		}
	} else {
		fi, err := os.Stat(opts.source)
		if err != nil {
			return nil, func() {}, ffdberr.Exitf(ffdberr.ExitFileNotFound, "ffdb: stat flatfile: %v", err)
		}
		compressedSize = fi.Size()
	}

	bm, err := loadBlockMap(ctx, opts, compressedSize)
	if err != nil {
		return nil, func() {}, err
	}

	if !remote {
		f, err := os.Open(opts.source)
		if err != nil {
			return nil, func() {}, ffdberr.Exitf(ffdberr.ExitFileNotFound, "ffdb: opening flatfile: %v", err)
		}
		return extractor.LocalCompressed{File: f, BlockMap: bm}, func() { f.Close() }, nil
	}

	rc := extractor.RemoteCompressed{Client: client, URL: opts.source, BlockMap: bm}
	cleanup := func() {}
	if opts.useCache {
		prefix := "BGZ"
		if opts.gzToolMode {
			prefix = "GZ"
		}
		dir := opts.cacheDir
		if dir == "" {
			tmp := os.Getenv("TMPDIR")
			if tmp == "" {
				tmp = "/tmp"
			}
			dir = filepath.Join(tmp, "tmpEXTRACTcache", filepath.Base(opts.source))
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, cleanup, fmt.Errorf("ffdb: creating cache dir: %w", err)
		}
		fetchFn := func(ctx context.Context, start, end int64) ([]byte, error) {
			return httpfetch.FetchRange(ctx, client, opts.source, start, end)
		}
		mgr := cache.NewManager(dir, prefix, bm, fetchFn, 0)
		rc.Cache = mgr
		cleanup = func() { mgr.Close() }
	}
	return rc, cleanup, nil
}

func loadBlockMap(ctx context.Context, opts fetcherOptions, compressedSize int64) (blockmap.BlockMap, error) {
	if opts.gzToolMode {
		bm, err := blockmap.LoadGzToolIndex(ctx, blockmap.ExecGzToolRunner{}, opts.gzIndexPath, compressedSize)
		if err != nil {
			return nil, ffdberr.Exit(ffdberr.ExitCorruptSidecar, err)
		}
		return bm, nil
	}
	f, err := os.Open(opts.gzIndexPath)
	if err != nil {
		return nil, ffdberr.Exitf(ffdberr.ExitFileNotFound, "ffdb: opening gzindex: %v", err)
	}
	defer f.Close()
	bm, err := blockmap.LoadGZI(f, compressedSize)
	if err != nil {
		return nil, ffdberr.Exit(ffdberr.ExitCorruptSidecar, err)
	}
	return bm, nil
}

package main

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/extractor"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
	"github.com/flatfiledb/ffdb/internal/shardbuild"
	"github.com/flatfiledb/ffdb/internal/splitter"
)

// compilePatterns compiles a list of regex source strings, reporting the
// offending pattern on failure.
func compilePatterns(sources []string) ([]*regexp.Regexp, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(sources))
	for _, s := range sources {
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, ffdberr.Exitf(ffdberr.ExitArg, "ffdb: invalid pattern %q: %v", s, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func buildPatternSet(ordinary, joined []string) (shardbuild.PatternSet, error) {
	o, err := compilePatterns(ordinary)
	if err != nil {
		return shardbuild.PatternSet{}, err
	}
	j, err := compilePatterns(joined)
	if err != nil {
		return shardbuild.PatternSet{}, err
	}
	if len(o) == 0 && len(j) == 0 {
		return shardbuild.PatternSet{}, ffdberr.Exitf(ffdberr.ExitArg, "ffdb: at least one -i/-j identifier pattern is required")
	}
	return shardbuild.PatternSet{Ordinary: o, Joined: j}, nil
}

// resolveTerminator rewrites a line-anchored terminator pattern (e.g. the
// default "^-$") into the literal byte sequence splitter/scanner search for.
func resolveTerminator(pattern string) []byte {
	if pattern == "" {
		pattern = defaultTerminator
	}
	return splitter.EncodeTerminator(pattern)
}

const defaultTerminator = "^-$"

// resolveCipher derives an AES key from a passphrase and keysize, returning
// the zero CipherType and a nil key when keysize is 0 (no encryption).
func resolveCipher(passphrase string, keysize int) (codec.CipherType, []byte, error) {
	if keysize == 0 {
		return codec.CipherType(0), nil, nil
	}
	if passphrase == "" {
		return 0, nil, ffdberr.Exitf(ffdberr.ExitArg, "ffdb: -k/--keysize requires -p/--passphrase")
	}
	name, key, err := codec.DeriveKey(passphrase, keysize)
	if err != nil {
		return 0, nil, ffdberr.Exitf(ffdberr.ExitArg, "ffdb: %v", err)
	}
	ct, err := codec.CipherTypeForKeySize(keysize)
	if err != nil {
		return 0, nil, ffdberr.Exitf(ffdberr.ExitArg, "ffdb: %v", err)
	}
	_ = name
	return ct, key, nil
}

// readListFile reads one identifier per non-empty, non-comment line.
func readListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ffdb: opening list file: %w", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ffdb: reading list file: %w", err)
	}
	return ids, nil
}

// collectIdentifiers merges -s/--id flags with the contents of -l/--list-file.
func collectIdentifiers(ids []string, listFile string) ([]string, error) {
	all := append([]string{}, ids...)
	if listFile != "" {
		fromFile, err := readListFile(listFile)
		if err != nil {
			return nil, err
		}
		all = append(all, fromFile...)
	}
	if len(all) == 0 {
		return nil, ffdberr.Exitf(ffdberr.ExitArg, "ffdb: at least one -s/--id or a non-empty -l/--list-file is required")
	}
	return all, nil
}

func parseLookupMode(s string) (extractor.LookupMode, error) {
	switch strings.ToLower(s) {
	case "", "first":
		return extractor.First, nil
	case "last":
		return extractor.Last, nil
	case "duplicates", "all":
		return extractor.Duplicates, nil
	default:
		return 0, ffdberr.Exitf(ffdberr.ExitArg, "ffdb: unknown --lookup-mode %q (want first|last|duplicates)", s)
	}
}

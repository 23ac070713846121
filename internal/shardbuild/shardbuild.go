// Package shardbuild processes one contiguous region of a flatfile — a full
// single-threaded run, or one shard of a parallel indexing run — scanning
// its entries, extracting identifiers, and emitting index lines. It is the
// worker-side half of C6; internal/indexer owns splitting the input,
// dispatching workers, and stitching their output back together.
package shardbuild

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
	"github.com/flatfiledb/ffdb/internal/scanner"
)

// PatternSet holds the two kinds of identifier patterns a run can specify:
// ordinary patterns contribute one identifier per non-empty capture group,
// joined patterns concatenate all of a single match's non-empty capture
// groups into one identifier.
type PatternSet struct {
	Ordinary []*regexp.Regexp
	Joined   []*regexp.Regexp
}

// ExtractIdentifiers returns the de-duplicated, sorted identifiers found in
// entry using patterns. If allMatches is false, only each pattern's first
// match is considered; otherwise every match is.
func ExtractIdentifiers(entry []byte, patterns PatternSet, allMatches bool) []string {
	ids := make(map[string]struct{})

	addGroups := func(m [][]byte) {
		for _, g := range m[1:] {
			if len(g) > 0 {
				ids[string(g)] = struct{}{}
			}
		}
	}
	addJoined := func(m [][]byte) {
		var joined []byte
		for _, g := range m[1:] {
			joined = append(joined, g...)
		}
		if len(joined) > 0 {
			ids[string(joined)] = struct{}{}
		}
	}

	if allMatches {
		for _, p := range patterns.Ordinary {
			for _, m := range p.FindAllSubmatch(entry, -1) {
				addGroups(m)
			}
		}
		for _, p := range patterns.Joined {
			for _, m := range p.FindAllSubmatch(entry, -1) {
				addJoined(m)
			}
		}
	} else {
		for _, p := range patterns.Ordinary {
			if m := p.FindSubmatch(entry); m != nil {
				addGroups(m)
			}
		}
		for _, p := range patterns.Joined {
			if m := p.FindSubmatch(entry); m != nil {
				addJoined(m)
			}
		}
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Options configures a single ProcessShard call.
type Options struct {
	Patterns      PatternSet
	AllMatches    bool
	Terminator    []byte // already anchor-rewritten, see splitter.EncodeTerminator
	NoPos         bool
	Flavor        indexfmt.Flavor
	Cipher        codec.CipherType
	Key           []byte // required when Flavor.HasEncryption()
	CompressLevel int
	Checksum      bool

	// Unsorted skips the shard-local sort, leaving lines in scan order.
	// Set when the caller also skips the cross-shard k-way merge, so the
	// whole run falls back to simple concatenation instead of producing a
	// sorted index.
	Unsorted bool
}

// Result is what ProcessShard hands back to its caller (internal/indexer):
// the shard's index lines (sorted, but only relative to this shard — the
// caller merges across shards — unless opts.Unsorted, in which case lines
// are left in scan order), counters, and how many bytes were written to
// out, if any.
type Result struct {
	Lines        []string
	EntriesCount int
	SkippedCount int
	OutputSize   int64
}

// ProcessShard scans r for entries terminated by opts.Terminator, extracts
// identifiers from each, and builds index lines for them. Entries with no
// matching identifier are skipped (and counted).
//
// Positions recorded in the lines are relative to the start of r (or, if
// out is non-nil, relative to the start of what gets written to out) — the
// caller is responsible for shifting them to their place in the final,
// stitched-together file or flatfile span.
//
// out receives the postprocessed (compressed and/or encrypted) bytes of
// every indexed entry when opts.Flavor requires a rewritten flatfile; out
// must be nil for FlavorPlain and FlavorNoPos.
func ProcessShard(r io.Reader, out io.Writer, opts Options) (*Result, error) {
	sc, err := scanner.NewScanner(bufio.NewReaderSize(r, 1<<20), opts.Terminator, 0)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var position int64

	for {
		entry, _, ok, err := sc.Next()
		if err != nil {
			return nil, fmt.Errorf("shardbuild: %w", err)
		}
		if !ok {
			break
		}
		res.EntriesCount++

		ids := ExtractIdentifiers(entry, opts.Patterns, opts.AllMatches)
		if len(ids) == 0 {
			res.SkippedCount++
			if !opts.NoPos && out == nil {
				position += int64(len(entry))
			}
			continue
		}

		if opts.NoPos {
			lines, err := indexfmt.FormatEntryLines(indexfmt.FlavorNoPos, 0, false, indexfmt.EntryInput{Identifiers: ids})
			if err != nil {
				return nil, err
			}
			res.Lines = append(res.Lines, lines...)
			continue
		}

		var checksum *uint32
		if opts.Checksum {
			c := codec.CRC32(entry)
			checksum = &c
		}

		content, iv, err := postprocess(entry, opts)
		if err != nil {
			return nil, err
		}

		if out != nil {
			n, err := out.Write(content)
			if err != nil {
				return nil, fmt.Errorf("shardbuild: writing postprocessed entry: %w", err)
			}
			res.OutputSize += int64(n)
		}

		e := indexfmt.EntryInput{
			Identifiers: ids,
			Position:    uint64(position),
			Length:      uint64(len(content)),
			IV:          iv,
			Checksum:    checksum,
		}
		lines, err := indexfmt.FormatEntryLines(opts.Flavor, opts.Cipher, opts.Checksum, e)
		if err != nil {
			return nil, err
		}
		res.Lines = append(res.Lines, lines...)

		if out != nil {
			position += int64(len(content))
		} else {
			position += int64(len(entry))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("shardbuild: %w", err)
	}

	if !opts.Unsorted {
		sort.Strings(res.Lines)
	}
	return res, nil
}

// postprocess applies compression and/or encryption to entry per opts.Flavor,
// returning the bytes that should be written to the rewritten flatfile (or
// entry itself, unmodified, for FlavorPlain) and the IV used, if any.
func postprocess(entry []byte, opts Options) (content []byte, iv []byte, err error) {
	content = entry
	if opts.Flavor.HasCompression() {
		content, err = codec.Deflate(content, opts.CompressLevel)
		if err != nil {
			return nil, nil, err
		}
	}
	if opts.Flavor.HasEncryption() {
		iv, err = codec.GenerateIV()
		if err != nil {
			return nil, nil, err
		}
		content, err = codec.CryptBytes(opts.Key, iv, content, codec.Encrypt)
		if err != nil {
			return nil, nil, err
		}
	}
	return content, iv, nil
}

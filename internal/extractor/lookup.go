// Package extractor implements the C10 Extractor: given an index and its
// flatfile (local or remote, plain or block-compressed), resolve a list of
// identifiers to entries and write them out, optionally batching adjacent
// entries into single fetches and fanning work out across workers.
package extractor

import (
	"errors"
	"fmt"
	"io"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
	"github.com/flatfiledb/ffdb/internal/sortedsearch"
)

// LookupMode selects which matching index line(s) to use for an identifier
// with duplicate entries, mirroring extractor.py's -d/-z/default flags.
type LookupMode int

const (
	// First resolves to the earliest matching line (the default).
	First LookupMode = iota
	// Last resolves to the latest matching line (-z/--zfound).
	Last
	// Duplicates resolves to every matching line (-d/--duplicates).
	Duplicates
)

func (m LookupMode) searchMode() sortedsearch.Mode {
	switch m {
	case Last:
		return sortedsearch.Last
	case Duplicates:
		return sortedsearch.All
	default:
		return sortedsearch.First
	}
}

// Lookup resolves identifier to its index record(s) in r (an index of
// size bytes, already classified as flavor/cipher), per mode. A nopos index
// has no position field and cannot be extracted from; callers must reject
// it before calling Lookup.
func Lookup(r io.ReaderAt, size int64, identifier string, flavor indexfmt.Flavor, cipher codec.CipherType, mode LookupMode) ([]indexfmt.Record, error) {
	if flavor == indexfmt.FlavorNoPos {
		return nil, fmt.Errorf("extractor: cannot extract from a nopos index (no stored position)")
	}

	prefix := []byte(identifier + indexfmt.FieldSep)
	lines, err := sortedsearch.Search(r, size, prefix, mode.searchMode())
	if err != nil {
		return nil, fmt.Errorf("extractor: searching for %q: %w", identifier, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %s", ffdberr.ErrNotFound, identifier)
	}

	recs := make([]indexfmt.Record, len(lines))
	for i, line := range lines {
		rec, err := indexfmt.ParseLine(flavor, cipher, string(line))
		if err != nil {
			return nil, fmt.Errorf("extractor: parsing matched line for %q: %w", identifier, err)
		}
		recs[i] = rec
	}
	return recs, nil
}

// LookupAll resolves every identifier in ids against r, in order, collecting
// every found record. Per-identifier ErrNotFound is warned about by the
// caller (via onNotFound) and does not abort the run, matching the
// per-identifier NotFound disposition in the error taxonomy.
func LookupAll(r io.ReaderAt, size int64, ids []string, flavor indexfmt.Flavor, cipher codec.CipherType, mode LookupMode, onNotFound func(identifier string)) ([]indexfmt.Record, error) {
	var out []indexfmt.Record
	for _, id := range ids {
		recs, err := Lookup(r, size, id, flavor, cipher, mode)
		if err != nil {
			if errors.Is(err, ffdberr.ErrNotFound) {
				if onNotFound != nil {
					onNotFound(id)
				}
				continue
			}
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

package extractor

import (
	"context"
	"io"

	"k8s.io/klog/v2"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

// Options configures a single extraction pass over a batch of Requests.
type Options struct {
	Flavor  indexfmt.Flavor
	Key     []byte // required when Flavor.HasEncryption()
	XSanity bool
	Raw     bool // -r: skip decrypt/inflate, emit stored bytes as-is
}

// ExtractRequests fetches and writes each of requests, in order, to w.
// Within a merged Request, members are written in ascending Offset order
// (already guaranteed by MergeAdjacent), so output is byte-identical to
// extracting the same identifiers unmerged: merged batching only changes
// how many fetches happen, never what gets written.
//
// A Request whose fetch itself fails counts every one of its members as
// corrupted and is otherwise skipped (warned, not fatal) — a fetch failure
// behaves the same as every member inside it failing its own checksum.
func ExtractRequests(ctx context.Context, fetcher Fetcher, requests []Request, opts Options, w io.Writer, counters *Counters) error {
	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			return err
		}
		extractOne(ctx, fetcher, req, opts, w, counters)
	}
	return nil
}

func extractOne(ctx context.Context, fetcher Fetcher, req Request, opts Options, w io.Writer, counters *Counters) {
	stored, err := fetcher.Fetch(ctx, req)
	if err != nil {
		klog.Warningf("extractor: fetch failed for request at position %d: %v", req.Position, err)
		counters.AddCorrupted(int64(len(req.Members)))
		return
	}

	for _, m := range req.Members {
		if m.Offset+m.Length > uint64(len(stored)) {
			klog.Warningf("extractor: %s: member range [%d,%d) exceeds fetched %d bytes", m.Identifier, m.Offset, m.Offset+m.Length, len(stored))
			counters.AddCorrupted(1)
			continue
		}
		sub := stored[m.Offset : m.Offset+m.Length]

		content, err := Decode(sub, m, DecodeOptions{
			Flavor:  opts.Flavor,
			Key:     opts.Key,
			XSanity: opts.XSanity,
			Raw:     opts.Raw,
		})
		if err != nil {
			klog.Warningf("extractor: %v", err)
			counters.AddCorrupted(1)
			continue
		}

		if _, err := w.Write(content); err != nil {
			klog.Warningf("extractor: %s: write failed: %v", m.Identifier, err)
			counters.AddCorrupted(1)
			continue
		}
		counters.AddExtracted(1)
	}
}

// ResolveIdentifiers runs lookup (and, for merged mode, adjacency batching)
// over ids against the classified index r, returning the Requests ready to
// extract. NotFound identifiers are warned about and skipped, counted in
// counters, rather than aborting the run.
func ResolveIdentifiers(r io.ReaderAt, size int64, ids []string, flavor indexfmt.Flavor, cipher codec.CipherType, mode LookupMode, merged bool, counters *Counters) ([]Request, error) {
	counters.AddRequested(int64(len(ids)))

	recs, err := LookupAll(r, size, ids, flavor, cipher, mode, func(identifier string) {
		klog.Warningf("extractor: %s: not found", identifier)
		counters.AddNotFound(1)
	})
	if err != nil {
		return nil, err
	}
	counters.AddFound(int64(len(recs)))

	if merged {
		return MergeAdjacent(recs), nil
	}
	return Isolated(recs), nil
}

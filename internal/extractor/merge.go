package extractor

import (
	"sort"

	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

// Member is one sub-entry of a (possibly merged) Request: its identifier
// and where within the request's fetched bytes its own content lives.
type Member struct {
	Identifier string
	Offset     uint64 // relative to Request.Position
	Length     uint64
	IV         []byte
	Checksum   *uint32
}

// Request is one fetch: either a single isolated entry (len(Members) == 1,
// Offset 0) or a run of adjacent entries coalesced into one fetch spanning
// [Position, Position+Length).
type Request struct {
	Position uint64
	Length   uint64
	Members  []Member
}

// MergeAdjacent sorts recs by position and coalesces every run where the
// previous tuple's position+length exactly equals the next tuple's position
// into a single merged Request, grounded directly on extractor.py's
// merge_adjacent: a single left-to-right pass that either extends the
// current run or closes it out and starts a new one.
//
// Isolated (non-adjacent) records become single-member Requests. Output
// Requests are in ascending position order.
func MergeAdjacent(recs []indexfmt.Record) []Request {
	if len(recs) == 0 {
		return nil
	}

	sorted := make([]indexfmt.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	var out []Request
	cur := newRequest(sorted[0])
	for _, rec := range sorted[1:] {
		if cur.Position+cur.Length == rec.Position {
			cur.Members = append(cur.Members, Member{
				Identifier: rec.Identifier,
				Offset:     cur.Length,
				Length:     rec.Length,
				IV:         rec.IV,
				Checksum:   rec.Checksum,
			})
			cur.Length += rec.Length
			continue
		}
		out = append(out, cur)
		cur = newRequest(rec)
	}
	out = append(out, cur)
	return out
}

func newRequest(rec indexfmt.Record) Request {
	return Request{
		Position: rec.Position,
		Length:   rec.Length,
		Members: []Member{{
			Identifier: rec.Identifier,
			Offset:     0,
			Length:     rec.Length,
			IV:         rec.IV,
			Checksum:   rec.Checksum,
		}},
	}
}

// Isolated converts recs directly into one Request per record, with no
// adjacency batching — used by the non-merged extraction modes.
func Isolated(recs []indexfmt.Record) []Request {
	out := make([]Request, len(recs))
	for i, rec := range recs {
		out[i] = newRequest(rec)
	}
	return out
}

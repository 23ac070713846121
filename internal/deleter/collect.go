package deleter

import (
	"io"
	"sort"

	"k8s.io/klog/v2"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/extractor"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

// Deletions is the resolved set of entries to remove: every removed
// position in ascending order, and each one's stored entry length.
type Deletions struct {
	SortedPositions []uint64
	Lengths         map[uint64]uint64 // position -> length
	Requested       int
	NotFound        int
}

// TotalBytes sums the stored length of every entry being removed.
func (d Deletions) TotalBytes() uint64 {
	var total uint64
	for _, l := range d.Lengths {
		total += l
	}
	return total
}

// CollectDeletions resolves ids against index using extractor's lookup (the
// same first/last/duplicates policy C10 extraction uses), returning the
// sorted, deduplicated positions to remove and their lengths.
func CollectDeletions(index io.ReaderAt, indexSize int64, ids []string, flavor indexfmt.Flavor, cipher codec.CipherType, mode extractor.LookupMode) (Deletions, error) {
	lengths := make(map[uint64]uint64)
	var notFound int

	recs, err := extractor.LookupAll(index, indexSize, ids, flavor, cipher, mode, func(identifier string) {
		klog.Warningf("deleter: %s: not found", identifier)
		notFound++
	})
	if err != nil {
		return Deletions{}, err
	}

	for _, rec := range recs {
		lengths[rec.Position] = rec.Length
	}

	positions := make([]uint64, 0, len(lengths))
	for p := range lengths {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })

	return Deletions{
		SortedPositions: positions,
		Lengths:         lengths,
		Requested:       len(ids),
		NotFound:        notFound,
	}, nil
}

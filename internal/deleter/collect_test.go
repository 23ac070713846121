package deleter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/extractor"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

func TestCollectDeletionsSortsAndDedupsPositions(t *testing.T) {
	content := "a\t0-4\nb\t4-4\nc\t8-4\nd\tc-4\n"
	r := strings.NewReader(content)

	d, err := CollectDeletions(r, int64(len(content)), []string{"c", "a"}, indexfmt.FlavorPlain, codec.CipherType(0), extractor.First)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 8}, d.SortedPositions)
	require.EqualValues(t, 4, d.Lengths[0])
	require.EqualValues(t, 4, d.Lengths[8])
	require.Equal(t, 2, d.Requested)
	require.Equal(t, 0, d.NotFound)
	require.EqualValues(t, 8, d.TotalBytes())
}

func TestCollectDeletionsCountsNotFound(t *testing.T) {
	content := "a\t0-4\n"
	r := strings.NewReader(content)

	d, err := CollectDeletions(r, int64(len(content)), []string{"a", "missing"}, indexfmt.FlavorPlain, codec.CipherType(0), extractor.First)
	require.NoError(t, err)
	require.Equal(t, 1, d.NotFound)
	require.Len(t, d.SortedPositions, 1)
}

func TestCollectDeletionsDuplicateIdentifierResolvesOncePerMode(t *testing.T) {
	// Two entries with the same identifier at different positions;
	// Duplicates mode resolves to both of them.
	content := "a\t0-4\na\t8-4\n"
	r := strings.NewReader(content)

	d, err := CollectDeletions(r, int64(len(content)), []string{"a"}, indexfmt.FlavorPlain, codec.CipherType(0), extractor.Duplicates)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 8}, d.SortedPositions)
}

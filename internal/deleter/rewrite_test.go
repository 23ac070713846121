package deleter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeleteEntriesSkipsRemovedRuns(t *testing.T) {
	flatfile := "AAAABBBBCCCCDDDD"
	d := Deletions{
		SortedPositions: []uint64{4, 12},
		Lengths:         map[uint64]uint64{4: 4, 12: 4},
	}

	var out bytes.Buffer
	n, err := DeleteEntries(strings.NewReader(flatfile), int64(len(flatfile)), &out, d)
	require.NoError(t, err)
	require.Equal(t, "AAAACCCC", out.String())
	require.EqualValues(t, 8, n)
}

func TestDeleteEntriesRemovingHeadAndTail(t *testing.T) {
	flatfile := "AAAABBBBCCCC"
	d := Deletions{
		SortedPositions: []uint64{0, 8},
		Lengths:         map[uint64]uint64{0: 4, 8: 4},
	}

	var out bytes.Buffer
	n, err := DeleteEntries(strings.NewReader(flatfile), int64(len(flatfile)), &out, d)
	require.NoError(t, err)
	require.Equal(t, "BBBB", out.String())
	require.EqualValues(t, 4, n)
}

func TestDeleteEntriesNoDeletions(t *testing.T) {
	flatfile := "AAAABBBB"
	var out bytes.Buffer
	n, err := DeleteEntries(strings.NewReader(flatfile), int64(len(flatfile)), &out, Deletions{})
	require.NoError(t, err)
	require.Equal(t, flatfile, out.String())
	require.EqualValues(t, len(flatfile), n)
}

func TestDeleteEntriesDetectsSizeMismatch(t *testing.T) {
	flatfile := "AAAABBBB"
	// Lengths map claims 100 bytes removed at position 4, running past the
	// end of the 8-byte flatfile, so the written size cannot match.
	d := Deletions{
		SortedPositions: []uint64{4},
		Lengths:         map[uint64]uint64{4: 100}, // wildly wrong length
	}
	var out bytes.Buffer
	_, err := DeleteEntries(strings.NewReader(flatfile), int64(len(flatfile)), &out, d)
	require.Error(t, err)
}

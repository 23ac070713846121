package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

func rec(id string, pos, length uint64) indexfmt.Record {
	return indexfmt.Record{Identifier: id, Position: pos, Length: length}
}

func TestMergeAdjacentCoalescesConsecutiveRuns(t *testing.T) {
	recs := []indexfmt.Record{
		rec("a", 0, 10),
		rec("b", 10, 5),
		rec("c", 15, 20),
		rec("d", 100, 8), // isolated: gap before it
	}
	reqs := MergeAdjacent(recs)
	require.Len(t, reqs, 2)

	require.Equal(t, uint64(0), reqs[0].Position)
	require.Equal(t, uint64(35), reqs[0].Length)
	require.Len(t, reqs[0].Members, 3)
	require.Equal(t, "a", reqs[0].Members[0].Identifier)
	require.Equal(t, uint64(0), reqs[0].Members[0].Offset)
	require.Equal(t, "b", reqs[0].Members[1].Identifier)
	require.Equal(t, uint64(10), reqs[0].Members[1].Offset)
	require.Equal(t, "c", reqs[0].Members[2].Identifier)
	require.Equal(t, uint64(15), reqs[0].Members[2].Offset)

	require.Equal(t, uint64(100), reqs[1].Position)
	require.Equal(t, uint64(8), reqs[1].Length)
	require.Len(t, reqs[1].Members, 1)
}

func TestMergeAdjacentSortsByPositionFirst(t *testing.T) {
	recs := []indexfmt.Record{
		rec("second", 10, 5),
		rec("first", 0, 10),
	}
	reqs := MergeAdjacent(recs)
	require.Len(t, reqs, 1)
	require.Equal(t, []string{"first", "second"}, []string{reqs[0].Members[0].Identifier, reqs[0].Members[1].Identifier})
}

func TestMergeAdjacentAllIsolatedWhenNoneTouch(t *testing.T) {
	recs := []indexfmt.Record{
		rec("a", 0, 5),
		rec("b", 20, 5),
		rec("c", 40, 5),
	}
	reqs := MergeAdjacent(recs)
	require.Len(t, reqs, 3)
	for _, r := range reqs {
		require.Len(t, r.Members, 1)
	}
}

func TestIsolatedProducesOneRequestPerRecord(t *testing.T) {
	recs := []indexfmt.Record{rec("a", 0, 10), rec("b", 10, 5)}
	reqs := Isolated(recs)
	require.Len(t, reqs, 2)
	require.Equal(t, uint64(0), reqs[0].Position)
	require.Equal(t, uint64(10), reqs[1].Position)
	for _, r := range reqs {
		require.Len(t, r.Members, 1)
		require.Equal(t, uint64(0), r.Members[0].Offset)
	}
}

func TestMergeAdjacentEmptyInput(t *testing.T) {
	require.Nil(t, MergeAdjacent(nil))
}

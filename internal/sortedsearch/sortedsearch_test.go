package sortedsearch

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildFile(lines ...string) *bytes.Reader {
	data := strings.Join(lines, "\n") + "\n"
	return bytes.NewReader([]byte(data))
}

func TestSearchFirstMatch(t *testing.T) {
	r := buildFile(
		"AAA\t1",
		"BBB\t2",
		"BBB\t3",
		"BBB\t4",
		"CCC\t5",
		"DDD\t6",
	)
	lines, err := Search(r, r.Size(), []byte("BBB\t"), First)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, "BBB\t2", string(lines[0]))
}

func TestSearchLastMatch(t *testing.T) {
	r := buildFile(
		"AAA\t1",
		"BBB\t2",
		"BBB\t3",
		"BBB\t4",
		"CCC\t5",
	)
	lines, err := Search(r, r.Size(), []byte("BBB\t"), Last)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, "BBB\t4", string(lines[0]))
}

func TestSearchAllMatches(t *testing.T) {
	r := buildFile(
		"AAA\t1",
		"BBB\t2",
		"BBB\t3",
		"BBB\t4",
		"CCC\t5",
	)
	lines, err := Search(r, r.Size(), []byte("BBB\t"), All)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, "BBB\t2", string(lines[0]))
	require.Equal(t, "BBB\t3", string(lines[1]))
	require.Equal(t, "BBB\t4", string(lines[2]))
}

func TestSearchFirstLine(t *testing.T) {
	r := buildFile("AAA\t1", "BBB\t2", "CCC\t3")
	lines, err := Search(r, r.Size(), []byte("AAA\t"), First)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, "AAA\t1", string(lines[0]))
}

func TestSearchLastLine(t *testing.T) {
	r := buildFile("AAA\t1", "BBB\t2", "ZZZ\t3")
	lines, err := Search(r, r.Size(), []byte("ZZZ\t"), Last)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, "ZZZ\t3", string(lines[0]))
}

func TestSearchNotFound(t *testing.T) {
	r := buildFile("AAA\t1", "CCC\t2", "EEE\t3")
	lines, err := Search(r, r.Size(), []byte("BBB\t"), All)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestSearchSingleLineFile(t *testing.T) {
	r := buildFile("ONLY\t1")
	lines, err := Search(r, r.Size(), []byte("ONLY\t"), First)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, "ONLY\t1", string(lines[0]))
}

func TestSearchManyDuplicates(t *testing.T) {
	var raw []string
	for i := 0; i < 200; i++ {
		raw = append(raw, "DUP\tentry")
	}
	raw = append([]string{"AAA\t0"}, raw...)
	raw = append(raw, "ZZZ\t999")
	r := buildFile(raw...)

	lines, err := Search(r, r.Size(), []byte("DUP\t"), All)
	require.NoError(t, err)
	require.Len(t, lines, 200)
}

func TestSearchEmptyPrefixErrors(t *testing.T) {
	r := buildFile("AAA\t1")
	_, err := Search(r, r.Size(), nil, First)
	require.Error(t, err)
}

func TestSearchEmptyFile(t *testing.T) {
	r := bytes.NewReader(nil)
	lines, err := Search(r, r.Size(), []byte("AAA\t"), First)
	require.NoError(t, err)
	require.Empty(t, lines)
}

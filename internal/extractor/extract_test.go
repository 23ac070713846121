package extractor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

func TestExtractRequestsWritesInOrder(t *testing.T) {
	fetcher := LocalPlain{File: strings.NewReader("AAAABBBBCCCC")}
	requests := []Request{
		{Position: 0, Length: 4, Members: []Member{{Identifier: "a", Offset: 0, Length: 4}}},
		{Position: 8, Length: 4, Members: []Member{{Identifier: "c", Offset: 0, Length: 4}}},
	}

	var buf bytes.Buffer
	var counters Counters
	err := ExtractRequests(context.Background(), fetcher, requests, Options{Flavor: indexfmt.FlavorPlain}, &buf, &counters)
	require.NoError(t, err)
	require.Equal(t, "AAAACCCC", buf.String())
	require.EqualValues(t, 2, counters.Extracted)
	require.EqualValues(t, 0, counters.Corrupted)
}

func TestExtractRequestsMergedMemberSplitIsTransparent(t *testing.T) {
	// Isolated and merged extraction of the same identifiers must produce
	// byte-identical output.
	fetcher := LocalPlain{File: strings.NewReader("AAAABBBBCCCC")}
	recs := []indexfmt.Record{
		{Identifier: "a", Position: 0, Length: 4},
		{Identifier: "b", Position: 4, Length: 4},
		{Identifier: "c", Position: 8, Length: 4},
	}

	var isolatedBuf, mergedBuf bytes.Buffer
	var c1, c2 Counters
	require.NoError(t, ExtractRequests(context.Background(), fetcher, Isolated(recs), Options{Flavor: indexfmt.FlavorPlain}, &isolatedBuf, &c1))
	require.NoError(t, ExtractRequests(context.Background(), fetcher, MergeAdjacent(recs), Options{Flavor: indexfmt.FlavorPlain}, &mergedBuf, &c2))

	require.Equal(t, isolatedBuf.String(), mergedBuf.String())
	require.Equal(t, c1.Extracted, c2.Extracted)
}

func TestExtractRequestsCountsCorruptedOnChecksumMismatch(t *testing.T) {
	plain := []byte("AAAA")
	var badChecksum uint32 = 0xdeadbeef
	fetcher := LocalPlain{File: bytes.NewReader(plain)}
	requests := []Request{
		{Position: 0, Length: 4, Members: []Member{{Identifier: "a", Offset: 0, Length: 4, Checksum: &badChecksum}}},
	}

	var buf bytes.Buffer
	var counters Counters
	err := ExtractRequests(context.Background(), fetcher, requests, Options{Flavor: indexfmt.FlavorPlain, XSanity: true}, &buf, &counters)
	require.NoError(t, err)
	require.Zero(t, buf.Len())
	require.EqualValues(t, 0, counters.Extracted)
	require.EqualValues(t, 1, counters.Corrupted)
}

type failingFetcher struct{}

func (failingFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	return nil, errors.New("boom")
}

func TestExtractRequestsCountsWholeRequestCorruptedOnFetchFailure(t *testing.T) {
	requests := []Request{
		{Position: 0, Length: 4, Members: []Member{
			{Identifier: "a", Offset: 0, Length: 2},
			{Identifier: "b", Offset: 2, Length: 2},
		}},
	}

	var buf bytes.Buffer
	var counters Counters
	err := ExtractRequests(context.Background(), failingFetcher{}, requests, Options{Flavor: indexfmt.FlavorPlain}, &buf, &counters)
	require.NoError(t, err)
	require.EqualValues(t, 2, counters.Corrupted)
}

func TestResolveIdentifiersIsolatedAndMerged(t *testing.T) {
	content := "a\t0-4\nb\t4-4\nc\t8-4\n"
	r := strings.NewReader(content)
	size := int64(len(content))

	var counters Counters
	reqs, err := ResolveIdentifiers(r, size, []string{"a", "b", "c"}, indexfmt.FlavorPlain, codec.CipherType(0), First, false, &counters)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	require.EqualValues(t, 3, counters.Requested)
	require.EqualValues(t, 3, counters.Found)

	var mergedCounters Counters
	merged, err := ResolveIdentifiers(r, size, []string{"a", "b", "c"}, indexfmt.FlavorPlain, codec.CipherType(0), First, true, &mergedCounters)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	require.Len(t, merged[0].Members, 3)
}

func TestResolveIdentifiersCountsNotFound(t *testing.T) {
	content := "a\t0-4\n"
	r := strings.NewReader(content)
	size := int64(len(content))

	var counters Counters
	reqs, err := ResolveIdentifiers(r, size, []string{"a", "missing"}, indexfmt.FlavorPlain, codec.CipherType(0), First, false, &counters)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.EqualValues(t, 1, counters.NotFound)
}

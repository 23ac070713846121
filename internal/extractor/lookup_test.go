package extractor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

func buildPlainIndex(lines ...string) (string, int64) {
	content := strings.Join(lines, "\n") + "\n"
	return content, int64(len(content))
}

func TestLookupFirstMode(t *testing.T) {
	content, size := buildPlainIndex(
		"gene1\t0-a",
		"gene2\ta-5",
		"gene2\tk-5",
		"gene3\tu-5",
	)
	r := strings.NewReader(content)

	recs, err := Lookup(r, size, "gene2", indexfmt.FlavorPlain, 0, First)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, uint64(10), recs[0].Position)
}

func TestLookupLastMode(t *testing.T) {
	content, size := buildPlainIndex(
		"gene1\t0-a",
		"gene2\ta-5",
		"gene2\tk-5",
		"gene3\tu-5",
	)
	r := strings.NewReader(content)

	recs, err := Lookup(r, size, "gene2", indexfmt.FlavorPlain, 0, Last)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, uint64(20), recs[0].Position)
}

func TestLookupDuplicatesMode(t *testing.T) {
	content, size := buildPlainIndex(
		"gene1\t0-a",
		"gene2\ta-5",
		"gene2\tk-5",
		"gene3\tu-5",
	)
	r := strings.NewReader(content)

	recs, err := Lookup(r, size, "gene2", indexfmt.FlavorPlain, 0, Duplicates)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, uint64(10), recs[0].Position)
	require.Equal(t, uint64(20), recs[1].Position)
}

func TestLookupNotFound(t *testing.T) {
	content, size := buildPlainIndex("gene1\t0-10", "gene3\t30-5")
	r := strings.NewReader(content)

	_, err := Lookup(r, size, "missing", indexfmt.FlavorPlain, 0, First)
	require.Error(t, err)
}

func TestLookupDistinguishesExactIdentifierFromPrefix(t *testing.T) {
	// "gene1" must not match a search for "gene" even though it's a
	// string prefix: the FieldSep suffix on the search prefix excludes it.
	content, size := buildPlainIndex("gene\t0-10", "gene1\t20-5")
	r := strings.NewReader(content)

	recs, err := Lookup(r, size, "gene", indexfmt.FlavorPlain, 0, Duplicates)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "gene", recs[0].Identifier)
}

func TestLookupRejectsNoPosIndex(t *testing.T) {
	r := strings.NewReader("gene1\ngene2\n")
	_, err := Lookup(r, 12, "gene1", indexfmt.FlavorNoPos, 0, First)
	require.Error(t, err)
}

func TestLookupAllWarnsOnMissingAndContinues(t *testing.T) {
	content, size := buildPlainIndex("gene1\t0-10", "gene3\t30-5")
	r := strings.NewReader(content)

	var missing []string
	recs, err := LookupAll(r, size, []string{"gene1", "missing", "gene3"}, indexfmt.FlavorPlain, 0, First, func(id string) {
		missing = append(missing, id)
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, []string{"missing"}, missing)
}

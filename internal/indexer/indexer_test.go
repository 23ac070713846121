package indexer

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
	"github.com/flatfiledb/ffdb/internal/shardbuild"
	"github.com/flatfiledb/ffdb/internal/splitter"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.ff")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func idEntries(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("ID   ENTRY")
		b.WriteString(string(rune('A' + i)))
		b.WriteString("\nsome body text here that takes up some space\n-\n")
	}
	return b.String()
}

func TestCalculateBlockSizeClampsToMin(t *testing.T) {
	require.Equal(t, MinBlockSize, CalculateBlockSize(1000, 4))
}

func TestCalculateBlockSizeClampsToMax(t *testing.T) {
	require.Equal(t, MaxBlockSize, CalculateBlockSize(1_000_000_000_000, 2))
}

func TestCalculateBlockSizeDividesEvenly(t *testing.T) {
	got := CalculateBlockSize(40_000_000, 4)
	require.Equal(t, int64(10_000_000), got)
}

func TestRunSingleThreadedPlainIndex(t *testing.T) {
	content := idEntries(5)
	path := writeTempFile(t, content)

	cfg := Config{
		Patterns:   shardbuild.PatternSet{Ordinary: []*regexp.Regexp{regexp.MustCompile(`(?m)^ID\s+(\S+)`)}},
		Terminator: splitter.EncodeTerminator("^-$"),
		Flavor:     indexfmt.FlavorPlain,
		Threads:    1,
	}
	out, err := Run(context.Background(), path, "", cfg)
	require.NoError(t, err)
	require.Equal(t, 5, out.EntriesCount)
	require.Equal(t, 0, out.SkippedCount)
	require.Len(t, out.Lines, 5)

	for i, line := range out.Lines {
		if i > 0 {
			require.LessOrEqual(t, out.Lines[i-1], line)
		}
		rec, err := indexfmt.ParseLine(indexfmt.FlavorPlain, 0, line)
		require.NoError(t, err)
		require.Equal(t, "ENTRY"+string(rune('A'+i)), rec.Identifier)
	}
}

func TestRunMultiThreadedMatchesSingleThreaded(t *testing.T) {
	content := idEntries(40)
	path := writeTempFile(t, content)

	base := Config{
		Patterns:   shardbuild.PatternSet{Ordinary: []*regexp.Regexp{regexp.MustCompile(`(?m)^ID\s+(\S+)`)}},
		Terminator: splitter.EncodeTerminator("^-$"),
		Flavor:     indexfmt.FlavorPlain,
	}

	single := base
	single.Threads = 1
	singleOut, err := Run(context.Background(), path, "", single)
	require.NoError(t, err)

	multi := base
	multi.Threads = 4
	multi.BlockSize = 200
	multiOut, err := Run(context.Background(), path, "", multi)
	require.NoError(t, err)

	require.Equal(t, singleOut.EntriesCount, multiOut.EntriesCount)
	require.Equal(t, singleOut.Lines, multiOut.Lines)
}

func TestRunAppliesOffset(t *testing.T) {
	content := idEntries(2)
	path := writeTempFile(t, content)

	cfg := Config{
		Patterns:   shardbuild.PatternSet{Ordinary: []*regexp.Regexp{regexp.MustCompile(`(?m)^ID\s+(\S+)`)}},
		Terminator: splitter.EncodeTerminator("^-$"),
		Flavor:     indexfmt.FlavorPlain,
		Threads:    1,
		Offset:     1000,
	}
	out, err := Run(context.Background(), path, "", cfg)
	require.NoError(t, err)
	require.Len(t, out.Lines, 2)

	rec, err := indexfmt.ParseLine(indexfmt.FlavorPlain, 0, out.Lines[0])
	require.NoError(t, err)
	require.Equal(t, uint64(1000), rec.Position)
}

func TestRunMultiThreadedShiftsPositionsAcrossShards(t *testing.T) {
	content := idEntries(10)
	path := writeTempFile(t, content)

	cfg := Config{
		Patterns:   shardbuild.PatternSet{Ordinary: []*regexp.Regexp{regexp.MustCompile(`(?m)^ID\s+(\S+)`)}},
		Terminator: splitter.EncodeTerminator("^-$"),
		Flavor:     indexfmt.FlavorPlain,
		Threads:    4,
		BlockSize:  150,
	}
	out, err := Run(context.Background(), path, "", cfg)
	require.NoError(t, err)
	require.Len(t, out.Lines, 10)

	for _, line := range out.Lines {
		rec, err := indexfmt.ParseLine(indexfmt.FlavorPlain, 0, line)
		require.NoError(t, err)
		expectedEntry := content[rec.Position : rec.Position+rec.Length]
		require.Contains(t, expectedEntry, "ID   "+rec.Identifier)
	}
}

func TestRunEncryptProducesRewrittenOutputFile(t *testing.T) {
	content := idEntries(6)
	inPath := writeTempFile(t, content)
	outPath := filepath.Join(t.TempDir(), "output.ff")

	_, key, err := codec.DeriveKey("s3cr3t", 32)
	require.NoError(t, err)

	cfg := Config{
		Patterns:   shardbuild.PatternSet{Ordinary: []*regexp.Regexp{regexp.MustCompile(`(?m)^ID\s+(\S+)`)}},
		Terminator: splitter.EncodeTerminator("^-$"),
		Flavor:     indexfmt.FlavorEncrypt,
		Cipher:     codec.AES256,
		Key:        key,
		Threads:    3,
		BlockSize:  200,
	}
	out, err := Run(context.Background(), inPath, outPath, cfg)
	require.NoError(t, err)
	require.Len(t, out.Lines, 6)

	rewritten, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.NotEmpty(t, rewritten)

	for _, line := range out.Lines {
		rec, err := indexfmt.ParseLine(indexfmt.FlavorEncrypt, codec.AES256, line)
		require.NoError(t, err)
		require.LessOrEqual(t, rec.Position+rec.Length, uint64(len(rewritten)))
		ciphertext := rewritten[rec.Position : rec.Position+rec.Length]
		plaintext, err := codec.CryptBytes(key, rec.IV, ciphertext, codec.Decrypt)
		require.NoError(t, err)
		require.Contains(t, string(plaintext), "ID   "+rec.Identifier)
	}
}

func TestRunNoPosSkipsPositionTracking(t *testing.T) {
	content := idEntries(3)
	path := writeTempFile(t, content)

	cfg := Config{
		Patterns:   shardbuild.PatternSet{Ordinary: []*regexp.Regexp{regexp.MustCompile(`(?m)^ID\s+(\S+)`)}},
		Terminator: splitter.EncodeTerminator("^-$"),
		NoPos:      true,
		Threads:    1,
	}
	out, err := Run(context.Background(), path, "", cfg)
	require.NoError(t, err)
	require.Len(t, out.Lines, 3)
	for _, line := range out.Lines {
		require.NotContains(t, line, indexfmt.FieldSep)
	}
}

func TestKWayMergeStringsMergesSortedLists(t *testing.T) {
	got := kWayMergeStrings([][]string{{"a", "d", "g"}, {"b", "e"}, {"c", "f", "h"}})
	require.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h"}, got)
}

func TestKWayMergeStringsHandlesEmptyLists(t *testing.T) {
	got := kWayMergeStrings([][]string{{}, {"x"}, {}})
	require.Equal(t, []string{"x"}, got)
}

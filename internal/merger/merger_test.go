package merger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMergePlainFlatfilesAndIndexes(t *testing.T) {
	dir := t.TempDir()

	baseFF := writeFile(t, dir, "base.ff", "AAAAAAAAAA")          // 10 bytes
	baseIdx := writeFile(t, dir, "base.idx", "one\t0-5\ntwo\t5-5\n") // positions 0 and 5, length 5

	deltaFF := writeFile(t, dir, "delta.ff", "BBBBB") // 5 bytes
	deltaIdx := writeFile(t, dir, "delta.idx", "three\t0-5\n")

	newFF := filepath.Join(dir, "new.ff")
	newIdx := filepath.Join(dir, "new.idx")

	res, err := Merge(baseFF, baseIdx, deltaFF, deltaIdx, newFF, newIdx)
	require.NoError(t, err)
	require.Equal(t, 1, res.ShiftedCount)

	ffContent, err := os.ReadFile(newFF)
	require.NoError(t, err)
	require.Equal(t, "AAAAAAAAAABBBBB", string(ffContent))

	idxContent, err := os.ReadFile(newIdx)
	require.NoError(t, err)
	require.Equal(t, "one\t0-5\nthree\ta-5\ntwo\t5-5\n", string(idxContent))
}

func TestMergeRejectsIncompatibleFlavors(t *testing.T) {
	dir := t.TempDir()

	baseFF := writeFile(t, dir, "base.ff", "AAAAA")
	baseIdx := writeFile(t, dir, "base.idx", "one\t0-5\n")

	deltaFF := writeFile(t, dir, "delta.ff", "BBBBB")
	deltaIdx := writeFile(t, dir, "delta.idx", "two\t0:5\n") // deflate flavor, not plain

	_, err := Merge(baseFF, baseIdx, deltaFF, deltaIdx, filepath.Join(dir, "new.ff"), filepath.Join(dir, "new.idx"))
	require.ErrorIs(t, err, ffdberr.ErrIncompatibleIndex)
}

func TestMergeRejectsMismatchedChecksumPresence(t *testing.T) {
	dir := t.TempDir()

	baseFF := writeFile(t, dir, "base.ff", "AAAAA")
	baseIdx := writeFile(t, dir, "base.idx", "one\t0-5\n")

	deltaFF := writeFile(t, dir, "delta.ff", "BBBBB")
	deltaIdx := writeFile(t, dir, "delta.idx", "two\t0-5\t1a\n")

	_, err := Merge(baseFF, baseIdx, deltaFF, deltaIdx, filepath.Join(dir, "new.ff"), filepath.Join(dir, "new.idx"))
	require.ErrorIs(t, err, ffdberr.ErrIncompatibleIndex)
}

func TestMergeShiftsEncryptedIndexPreservingIV(t *testing.T) {
	dir := t.TempDir()

	_, key, err := codec.DeriveKey("pw", 16)
	require.NoError(t, err)

	iv, err := codec.GenerateIV()
	require.NoError(t, err)

	plaintext := []byte("secret-base")
	ciphertext, err := codec.CryptBytes(key, iv, plaintext, codec.Encrypt)
	require.NoError(t, err)

	baseFF := writeFile(t, dir, "base.ff", string(ciphertext))
	baseLine, err := indexfmt.FormatEntryLines(indexfmt.FlavorEncrypt, codec.AES128, false, indexfmt.EntryInput{
		Identifiers: []string{"base-id"}, Position: 0, Length: uint64(len(ciphertext)), IV: iv,
	})
	require.NoError(t, err)
	baseIdx := writeFile(t, dir, "base.idx", baseLine[0]+"\n")

	deltaPlaintext := []byte("secret-delta")
	deltaIV, err := codec.GenerateIV()
	require.NoError(t, err)
	deltaCiphertext, err := codec.CryptBytes(key, deltaIV, deltaPlaintext, codec.Encrypt)
	require.NoError(t, err)

	deltaFF := writeFile(t, dir, "delta.ff", string(deltaCiphertext))
	deltaLine, err := indexfmt.FormatEntryLines(indexfmt.FlavorEncrypt, codec.AES128, false, indexfmt.EntryInput{
		Identifiers: []string{"delta-id"}, Position: 0, Length: uint64(len(deltaCiphertext)), IV: deltaIV,
	})
	require.NoError(t, err)
	deltaIdx := writeFile(t, dir, "delta.idx", deltaLine[0]+"\n")

	newFF := filepath.Join(dir, "new.ff")
	newIdx := filepath.Join(dir, "new.idx")

	res, err := Merge(baseFF, baseIdx, deltaFF, deltaIdx, newFF, newIdx)
	require.NoError(t, err)
	require.Equal(t, 1, res.ShiftedCount)

	rewritten, err := os.ReadFile(newFF)
	require.NoError(t, err)
	require.Equal(t, string(ciphertext)+string(deltaCiphertext), string(rewritten))

	lines, err := os.ReadFile(newIdx)
	require.NoError(t, err)
	deltaLine2 := deltaRecordLineFrom(t, string(lines), "delta-id")

	deltaRec, err := indexfmt.ParseLine(indexfmt.FlavorEncrypt, codec.AES128, deltaLine2)
	require.NoError(t, err)
	require.Equal(t, uint64(len(ciphertext)), deltaRec.Position)
	require.Equal(t, deltaIV, deltaRec.IV)
}

func deltaRecordLineFrom(t *testing.T, content, identifier string) string {
	t.Helper()
	for _, line := range splitLines(content) {
		if len(line) > len(identifier) && line[:len(identifier)] == identifier {
			return line
		}
	}
	t.Fatalf("identifier %q not found in %q", identifier, content)
	return ""
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func TestMergeRejectsNoPosIndexes(t *testing.T) {
	dir := t.TempDir()

	baseFF := writeFile(t, dir, "base.ff", "AAAAA")
	baseIdx := writeFile(t, dir, "base.idx", "one\ntwo\n") // nopos: no field separator at all

	deltaFF := writeFile(t, dir, "delta.ff", "BBBBB")
	deltaIdx := writeFile(t, dir, "delta.idx", "three\t0-5\n")

	newFF := filepath.Join(dir, "new.ff")
	newIdx := filepath.Join(dir, "new.idx")

	_, err := Merge(baseFF, baseIdx, deltaFF, deltaIdx, newFF, newIdx)
	require.ErrorIs(t, err, ffdberr.ErrMalformedIndex)
}

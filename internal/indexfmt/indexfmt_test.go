package indexfmt

import (
	"testing"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
	"github.com/stretchr/testify/require"
)

func TestClassifyPlain(t *testing.T) {
	flavor, cipherName, keysize, hasChecksum, err := Classify("foo\t1a-2b")
	require.NoError(t, err)
	require.Equal(t, FlavorPlain, flavor)
	require.Empty(t, cipherName)
	require.Zero(t, keysize)
	require.False(t, hasChecksum)
}

func TestClassifyDeflate(t *testing.T) {
	flavor, _, _, hasChecksum, err := Classify("foo\t1a:2b")
	require.NoError(t, err)
	require.Equal(t, FlavorDeflate, flavor)
	require.False(t, hasChecksum)
}

func TestClassifyWithChecksum(t *testing.T) {
	flavor, _, _, hasChecksum, err := Classify("foo\t1a-2b\t3c")
	require.NoError(t, err)
	require.Equal(t, FlavorPlain, flavor)
	require.True(t, hasChecksum)
}

func TestClassifyEncrypt(t *testing.T) {
	flavor, cipherName, keysize, _, err := Classify("foo\t1a.2b|Caabbccdd")
	require.NoError(t, err)
	require.Equal(t, FlavorEncrypt, flavor)
	require.Equal(t, 32, keysize)
	require.NotEmpty(t, cipherName)
}

func TestClassifyBoth(t *testing.T) {
	flavor, _, keysize, _, err := Classify("foo\t1a+2b|Aaabbccdd")
	require.NoError(t, err)
	require.Equal(t, FlavorBoth, flavor)
	require.Equal(t, 16, keysize)
}

func TestClassifyRejectsNoPos(t *testing.T) {
	// A bare identifier with no field separator at all must be rejected:
	// extractors reject nopos-format indexes outright.
	_, _, _, _, err := Classify("bare-identifier-no-tab")
	require.ErrorIs(t, err, ffdberr.ErrMalformedIndex)
}

func TestClassifyRejectsGarbage(t *testing.T) {
	_, _, _, _, err := Classify("foo\t!!!notaposfield")
	require.ErrorIs(t, err, ffdberr.ErrMalformedIndex)
}

func TestClassifyRejectsUnknownCipherLetter(t *testing.T) {
	_, _, _, _, err := Classify("foo\t1a.2b|Zaabbccdd")
	require.ErrorIs(t, err, ffdberr.ErrUnknownCipher)
}

func TestFormatAndParsePositionFieldPlain(t *testing.T) {
	e := EntryInput{Position: 1024, Length: 256}
	field, err := FormatPositionField(FlavorPlain, 0, e)
	require.NoError(t, err)

	position, length, iv, cipher, err := ParsePositionField(FlavorPlain, field)
	require.NoError(t, err)
	require.Equal(t, uint64(1024), position)
	require.Equal(t, uint64(256), length)
	require.Nil(t, iv)
	require.Equal(t, codec.CipherType(0), cipher)
}

func TestFormatAndParsePositionFieldEncrypted(t *testing.T) {
	iv, err := codec.GenerateIV()
	require.NoError(t, err)
	e := EntryInput{Position: 4096, Length: 512, IV: iv}

	field, err := FormatPositionField(FlavorEncrypt, codec.AES256, e)
	require.NoError(t, err)

	position, length, gotIV, cipher, err := ParsePositionField(FlavorEncrypt, field)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), position)
	require.Equal(t, uint64(512), length)
	require.Equal(t, iv, gotIV)
	require.Equal(t, codec.AES256, cipher)
}

func TestFormatPositionFieldEncryptRequiresIV(t *testing.T) {
	_, err := FormatPositionField(FlavorEncrypt, codec.AES128, EntryInput{Position: 1, Length: 1})
	require.ErrorIs(t, err, ffdberr.ErrMalformedIndex)
}

func TestFormatEntryLinesNoPos(t *testing.T) {
	lines, err := FormatEntryLines(FlavorNoPos, 0, false, EntryInput{Identifiers: []string{"a", "b"}})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, lines)
}

func TestFormatEntryLinesPlainWithChecksum(t *testing.T) {
	csum := uint32(12345)
	e := EntryInput{Identifiers: []string{"id1", "id2"}, Position: 10, Length: 20, Checksum: &csum}
	lines, err := FormatEntryLines(FlavorPlain, 0, true, e)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	for i, id := range []string{"id1", "id2"} {
		rec, err := ParseLine(FlavorPlain, 0, lines[i])
		require.NoError(t, err)
		require.Equal(t, id, rec.Identifier)
		require.Equal(t, uint64(10), rec.Position)
		require.Equal(t, uint64(20), rec.Length)
		require.NotNil(t, rec.Checksum)
		require.Equal(t, csum, *rec.Checksum)
	}
}

func TestParseLineNoPos(t *testing.T) {
	rec, err := ParseLine(FlavorNoPos, 0, "just-an-identifier")
	require.NoError(t, err)
	require.Equal(t, "just-an-identifier", rec.Identifier)
	require.Zero(t, rec.Position)
}

func TestParseLineTooFewColumns(t *testing.T) {
	_, err := ParseLine(FlavorPlain, 0, "onlyidentifier")
	require.ErrorIs(t, err, ffdberr.ErrMalformedIndex)
}

func TestShiftPositionFieldPlain(t *testing.T) {
	e := EntryInput{Position: 100, Length: 50}
	field, err := FormatPositionField(FlavorPlain, 0, e)
	require.NoError(t, err)

	shifted, err := ShiftPositionField(FlavorPlain, field, 900)
	require.NoError(t, err)

	position, length, _, _, err := ParsePositionField(FlavorPlain, shifted)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), position)
	require.Equal(t, uint64(50), length)
}

func TestShiftPositionFieldPreservesCipherLetter(t *testing.T) {
	iv, err := codec.GenerateIV()
	require.NoError(t, err)
	e := EntryInput{Position: 200, Length: 64, IV: iv}

	field, err := FormatPositionField(FlavorBoth, codec.AES192, e)
	require.NoError(t, err)

	shifted, err := ShiftPositionField(FlavorBoth, field, 800)
	require.NoError(t, err)

	position, length, gotIV, cipher, err := ParsePositionField(FlavorBoth, shifted)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), position)
	require.Equal(t, uint64(64), length)
	require.Equal(t, iv, gotIV)
	require.Equal(t, codec.AES192, cipher, "the cipher letter must survive a shift unchanged")
}

func TestShiftPositionFieldRejectsUnderflow(t *testing.T) {
	e := EntryInput{Position: 10, Length: 5}
	field, err := FormatPositionField(FlavorPlain, 0, e)
	require.NoError(t, err)

	_, err = ShiftPositionField(FlavorPlain, field, -100)
	require.Error(t, err)
}

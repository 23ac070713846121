package indexfmt

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
)

// Record is a single decoded index line.
type Record struct {
	Identifier string
	Position   uint64
	Length     uint64
	IV         []byte  // nil unless flavor is Encrypt or Both
	Checksum   *uint32 // nil unless the index carries checksums
}

// EntryInput is what the indexer/merger feed into FormatEntryLines: an
// already-positioned, already-postprocessed entry plus its identifiers in
// emission order.
type EntryInput struct {
	Identifiers []string // insertion order within the entry; preserved on the line
	Position    uint64
	Length      uint64
	IV          []byte  // required (16 bytes) for Encrypt/Both flavors
	Checksum    *uint32 // CRC32 of the plaintext, uncompressed content
}

// FormatPositionField renders the position/length (and IV, for encrypted
// flavors) portion of an index line, without the identifier or checksum.
func FormatPositionField(flavor Flavor, cipher codec.CipherType, e EntryInput) (string, error) {
	if flavor == FlavorNoPos {
		return "", nil
	}
	posB64 := codec.IntToB64(e.Position)
	lenB64 := codec.IntToB64(e.Length)
	if !flavor.HasEncryption() {
		return fmt.Sprintf("%s%c%s", posB64, flavor.separator(), lenB64), nil
	}
	if len(e.IV) == 0 {
		return "", fmt.Errorf("%w: encrypted flavor requires an IV", ffdberr.ErrMalformedIndex)
	}
	return fmt.Sprintf("%s%c%s|%c%s", posB64, flavor.separator(), lenB64, byte(cipher), hex.EncodeToString(e.IV)), nil
}

// FormatEntryLines produces one index line per identifier of e, in e's
// identifier order. Downstream sorting (not this function) establishes the
// global index order.
func FormatEntryLines(flavor Flavor, cipher codec.CipherType, withChecksum bool, e EntryInput) ([]string, error) {
	if flavor == FlavorNoPos {
		lines := make([]string, len(e.Identifiers))
		for i, id := range e.Identifiers {
			lines[i] = id
		}
		return lines, nil
	}

	posField, err := FormatPositionField(flavor, cipher, e)
	if err != nil {
		return nil, err
	}

	lines := make([]string, len(e.Identifiers))
	for i, id := range e.Identifiers {
		if withChecksum {
			if e.Checksum == nil {
				return nil, fmt.Errorf("%w: checksum requested but not computed", ffdberr.ErrMalformedIndex)
			}
			lines[i] = id + FieldSep + posField + FieldSep + codec.IntToB64(uint64(*e.Checksum))
		} else {
			lines[i] = id + FieldSep + posField
		}
	}
	return lines, nil
}

// ParsePositionField decodes the position field of an already-classified
// index line into (position, length, iv, cipher). cipher is the zero value
// for unencrypted flavors.
func ParsePositionField(flavor Flavor, field string) (position, length uint64, iv []byte, cipher codec.CipherType, err error) {
	switch flavor {
	case FlavorPlain, FlavorDeflate:
		m := rePlainOrDeflate.FindStringSubmatch(field)
		if m == nil {
			return 0, 0, nil, 0, fmt.Errorf("%w: position field %q does not match flavor %s", ffdberr.ErrMalformedIndex, field, flavor)
		}
		position, err = codec.B64ToInt(m[1])
		if err != nil {
			return 0, 0, nil, 0, err
		}
		length, err = codec.B64ToInt(m[3])
		if err != nil {
			return 0, 0, nil, 0, err
		}
		return position, length, nil, 0, nil
	case FlavorEncrypt:
		m := reEncrypt.FindStringSubmatch(field)
		if m == nil {
			return 0, 0, nil, 0, fmt.Errorf("%w: position field %q does not match flavor %s", ffdberr.ErrMalformedIndex, field, flavor)
		}
		return parsePosLenIV(m)
	case FlavorBoth:
		m := reBoth.FindStringSubmatch(field)
		if m == nil {
			return 0, 0, nil, 0, fmt.Errorf("%w: position field %q does not match flavor %s", ffdberr.ErrMalformedIndex, field, flavor)
		}
		return parsePosLenIV(m)
	case FlavorNoPos:
		return 0, 0, nil, 0, fmt.Errorf("%w: nopos index has no position field", ffdberr.ErrMalformedIndex)
	default:
		return 0, 0, nil, 0, fmt.Errorf("%w: unknown flavor %v", ffdberr.ErrMalformedIndex, flavor)
	}
}

func parsePosLenIV(m []string) (position, length uint64, iv []byte, cipher codec.CipherType, err error) {
	position, err = codec.B64ToInt(m[1])
	if err != nil {
		return 0, 0, nil, 0, err
	}
	length, err = codec.B64ToInt(m[2])
	if err != nil {
		return 0, 0, nil, 0, err
	}
	iv, err = hex.DecodeString(m[4])
	if err != nil {
		return 0, 0, nil, 0, fmt.Errorf("%w: bad IV hex: %v", ffdberr.ErrMalformedIndex, err)
	}
	cipher = codec.CipherType(m[3][0])
	return position, length, iv, cipher, nil
}

// ParseLine splits a full index line (identifier, position field, optional
// checksum) given its already-known flavor.
func ParseLine(flavor Flavor, cipher codec.CipherType, line string) (Record, error) {
	line = strings.TrimRight(line, "\n")
	if flavor == FlavorNoPos {
		return Record{Identifier: line}, nil
	}
	cols := strings.Split(line, FieldSep)
	if len(cols) < 2 {
		return Record{}, fmt.Errorf("%w: line %q has too few columns", ffdberr.ErrMalformedIndex, line)
	}
	position, length, iv, _, err := ParsePositionField(flavor, cols[1])
	if err != nil {
		return Record{}, err
	}
	rec := Record{Identifier: cols[0], Position: position, Length: length, IV: iv}
	if len(cols) >= 3 {
		csum, err := codec.B64ToInt(cols[2])
		if err != nil {
			return Record{}, err
		}
		c32 := uint32(csum)
		rec.Checksum = &c32
	}
	return rec, nil
}

// ShiftPositionField re-encodes field with position increased by offset,
// leaving the length (and IV, if present) untouched. Used by the merger and
// deleter to re-base index lines without fully decoding/re-encoding via
// Record.
func ShiftPositionField(flavor Flavor, field string, offset int64) (string, error) {
	position, length, iv, cipher, err := ParsePositionField(flavor, field)
	if err != nil {
		return "", err
	}
	newPos := int64(position) + offset
	if newPos < 0 {
		return "", fmt.Errorf("codec: shifted position underflow (%d + %d)", position, offset)
	}
	e := EntryInput{Position: uint64(newPos), Length: length, IV: iv}
	return FormatPositionField(flavor, cipher, e)
}

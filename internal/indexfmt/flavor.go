// Package indexfmt encodes and decodes single lines of a positional index
// file (C2 in the design): tab-separated records mapping an identifier to a
// position/length (and, for encrypted flavors, an IV) plus an optional CRC32
// checksum.
package indexfmt

import (
	"fmt"
	"regexp"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
)

// FieldSep separates columns within an index line.
const FieldSep = "\t"

// Flavor identifies how the position field of an index line is encoded.
type Flavor int

const (
	// FlavorPlain is "P-L": no compression, no encryption.
	FlavorPlain Flavor = iota
	// FlavorDeflate is "P:L": per-entry DEFLATE, no encryption.
	FlavorDeflate
	// FlavorEncrypt is "P.L|Xhex(iv)": per-entry AES-CFB, no compression.
	FlavorEncrypt
	// FlavorBoth is "P+L|Xhex(iv)": DEFLATE then AES-CFB.
	FlavorBoth
	// FlavorNoPos carries only the bare identifier, no position field at all.
	FlavorNoPos
)

func (f Flavor) String() string {
	switch f {
	case FlavorPlain:
		return "plain"
	case FlavorDeflate:
		return "deflate"
	case FlavorEncrypt:
		return "encrypt"
	case FlavorBoth:
		return "both"
	case FlavorNoPos:
		return "nopos"
	default:
		return fmt.Sprintf("Flavor(%d)", int(f))
	}
}

// HasCompression reports whether entries of this flavor are DEFLATEd.
func (f Flavor) HasCompression() bool { return f == FlavorDeflate || f == FlavorBoth }

// HasEncryption reports whether entries of this flavor are AES-CFB encrypted.
func (f Flavor) HasEncryption() bool { return f == FlavorEncrypt || f == FlavorBoth }

// separator returns the byte that distinguishes this flavor's position
// field, per spec.md's table ("-" plain, ":" deflate, "." encrypt, "+" both).
func (f Flavor) separator() byte {
	switch f {
	case FlavorPlain:
		return '-'
	case FlavorDeflate:
		return ':'
	case FlavorEncrypt:
		return '.'
	case FlavorBoth:
		return '+'
	default:
		return 0
	}
}

var (
	// reEncrypt matches "P.L|Xhex" (encrypt only).
	reEncrypt = regexp.MustCompile(`^([0-9a-zA-Z{}]+)\.([0-9a-zA-Z{}]+)\|([A-Z])([0-9a-f]+)$`)
	// reBoth matches "P+L|Xhex" (deflate+encrypt).
	reBoth = regexp.MustCompile(`^([0-9a-zA-Z{}]+)\+([0-9a-zA-Z{}]+)\|([A-Z])([0-9a-f]+)$`)
	// rePlainOrDeflate matches "P-L" or "P:L" (no IV).
	rePlainOrDeflate = regexp.MustCompile(`^([0-9a-zA-Z{}]+)([-:])([0-9a-zA-Z{}]+)$`)
)

// Classify inspects the first line of an index file and determines its
// flavor, cipher, keysize, and whether checksums are present. It does not
// fully parse the line's identifier.
func Classify(firstLine string) (flavor Flavor, cipherName string, keysize int, hasChecksum bool, err error) {
	idx := indexOf(firstLine, FieldSep)
	if idx < 0 {
		return 0, "", 0, false, fmt.Errorf("%w: line has no field separator", ffdberr.ErrMalformedIndex)
	}
	rest := firstLine[idx+1:]
	// A third tab-separated column means checksums are present.
	posField := rest
	if tIdx := indexOf(rest, FieldSep); tIdx >= 0 {
		posField = rest[:tIdx]
		hasChecksum = true
	}
	switch {
	case reBoth.MatchString(posField):
		m := reBoth.FindStringSubmatch(posField)
		ct := codec.CipherType(m[3][0])
		ks, kerr := ct.KeySize()
		if kerr != nil {
			return 0, "", 0, false, fmt.Errorf("%w: %v", ffdberr.ErrUnknownCipher, kerr)
		}
		name, _ := ct.CipherName()
		return FlavorBoth, name, ks, hasChecksum, nil
	case reEncrypt.MatchString(posField):
		m := reEncrypt.FindStringSubmatch(posField)
		ct := codec.CipherType(m[3][0])
		ks, kerr := ct.KeySize()
		if kerr != nil {
			return 0, "", 0, false, fmt.Errorf("%w: %v", ffdberr.ErrUnknownCipher, kerr)
		}
		name, _ := ct.CipherName()
		return FlavorEncrypt, name, ks, hasChecksum, nil
	case rePlainOrDeflate.MatchString(posField):
		m := rePlainOrDeflate.FindStringSubmatch(posField)
		if m[2] == ":" {
			return FlavorDeflate, "", 0, hasChecksum, nil
		}
		return FlavorPlain, "", 0, hasChecksum, nil
	default:
		return 0, "", 0, false, fmt.Errorf("%w: unrecognised position field %q", ffdberr.ErrMalformedIndex, posField)
	}
}

func indexOf(s, sep string) int {
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			return i
		}
	}
	return -1
}

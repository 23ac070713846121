package extractor

import (
	"fmt"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

// DecodeOptions configures Decode.
type DecodeOptions struct {
	Flavor  indexfmt.Flavor
	Key     []byte // required when Flavor.HasEncryption()
	XSanity bool   // verify CRC32 against Member.Checksum
	Raw     bool   // skip decrypt/inflate entirely, return stored bytes as-is
}

// Decode reverses shardbuild's postprocess: decrypt (if encrypted), then
// inflate (if compressed) — the exact mirror of the encode order
// deflate-then-encrypt. If opts.Raw, stored is returned unchanged and no
// checksum check is performed, matching extractor.py's --raw debug path.
//
// When opts.XSanity, the checksum is compared against the CRC32 of the
// final plaintext; a mismatch (or a decrypt/inflate failure) is reported as
// ffdberr.ErrCorrupted.
func Decode(stored []byte, m Member, opts DecodeOptions) ([]byte, error) {
	if opts.Raw {
		return stored, nil
	}

	content := stored
	var err error
	if opts.Flavor.HasEncryption() {
		if len(m.IV) == 0 {
			return nil, fmt.Errorf("%w: %s: encrypted entry has no IV", ffdberr.ErrCorrupted, m.Identifier)
		}
		content, err = codec.CryptBytes(opts.Key, m.IV, content, codec.Decrypt)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: decrypt: %v", ffdberr.ErrCorrupted, m.Identifier, err)
		}
	}
	if opts.Flavor.HasCompression() {
		content, err = codec.Inflate(content)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: inflate: %v", ffdberr.ErrCorrupted, m.Identifier, err)
		}
	}

	if opts.XSanity {
		if m.Checksum == nil {
			return nil, fmt.Errorf("%w: %s: xsanity requested but index has no checksum column", ffdberr.ErrCorrupted, m.Identifier)
		}
		got := codec.CRC32(content)
		if got != *m.Checksum {
			return nil, fmt.Errorf("%w: %s: checksum mismatch (want %s, got %s)", ffdberr.ErrCorrupted, m.Identifier, codec.IntToB64(uint64(*m.Checksum)), codec.IntToB64(uint64(got)))
		}
	}

	return content, nil
}

package codec

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// Deflate compresses data as raw DEFLATE (no zlib or gzip header), matching
// the Python implementation's zlib.compressobj with a negative window-bits
// value. level follows the usual 0 (no compression) to 9 (best compression)
// scale; klauspost/compress/flate accepts the same range as stdlib.
func Deflate(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("codec: creating deflate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("codec: deflating: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: closing deflate writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Inflate decompresses a raw DEFLATE stream produced by Deflate.
func Inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: inflating: %w", err)
	}
	return out, nil
}

// CRC32 returns the IEEE CRC32 of data, computed over plaintext, uncompressed
// entry content per spec.md's checksum invariant.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

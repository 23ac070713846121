// Package blockmap implements the C8 Block Map: given an uncompressed byte
// offset inside a whole-file-gzipped flatfile, find which compressed block
// holds it and that block's compressed byte range, so the cache manager and
// extractor can fetch (or decompress) only the blocks they need instead of
// the whole file.
//
// Two implementations share the BlockMap interface: BGZF (fixed-stride
// blocks, a binary .gzi sidecar) and GzTool (variable-stride blocks, an
// external gztool invocation).
package blockmap

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flatfiledb/ffdb/internal/ffdberr"
)

// BlockMap maps uncompressed offsets to compressed block ranges.
type BlockMap interface {
	// BlockForUncompressedOffset returns the id of the block containing
	// uncompressed byte offset p.
	BlockForUncompressedOffset(p int64) (int, error)
	// CompressedStart returns the compressed byte offset a decoder should
	// start reading from to decompress blockID (one byte of leading
	// context before the block's own first byte, where the underlying
	// format requires it).
	CompressedStart(blockID int) (int64, error)
	// CompressedEnd returns the compressed byte offset one past the end of
	// blockID.
	CompressedEnd(blockID int) (int64, error)
	// UncompressedStart returns the uncompressed byte offset where blockID
	// begins, the inverse of BlockForUncompressedOffset.
	UncompressedStart(blockID int) (int64, error)
	// MaxBlockID returns the highest valid block id.
	MaxBlockID() int
}

// BGZFStride is BGZF's fixed uncompressed block size in bytes.
const BGZFStride int64 = 65280

// BGZF is a BlockMap backed by a bgzip .gzi sidecar: a little-endian
// uint64 entry count N followed by N (compressed_offset, uncompressed_offset)
// uint64 pairs. Block 0 is implicit at (0, 0) and is not itself stored.
type BGZF struct {
	// compressedOffsets[i] is the compressed byte offset where block i
	// begins. compressedOffsets[0] is always 0 (the implicit entry).
	compressedOffsets []int64
	compressedSize    int64
}

// LoadGZI parses a .gzi sidecar from r. compressedSize is the size in bytes
// of the compressed flatfile it indexes, used to bound the final block.
func LoadGZI(r io.Reader, compressedSize int64) (*BGZF, error) {
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: reading gzi entry count: %v", ffdberr.ErrCorruptBlockIndex, err)
	}

	offsets := make([]int64, 0, count+1)
	offsets = append(offsets, 0)
	for i := uint64(0); i < count; i++ {
		var compressedOffset, uncompressedOffset uint64
		if err := binary.Read(r, binary.LittleEndian, &compressedOffset); err != nil {
			return nil, fmt.Errorf("%w: reading gzi entry %d: %v", ffdberr.ErrCorruptBlockIndex, i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &uncompressedOffset); err != nil {
			return nil, fmt.Errorf("%w: reading gzi entry %d: %v", ffdberr.ErrCorruptBlockIndex, i, err)
		}
		offsets = append(offsets, int64(compressedOffset))
	}
	return &BGZF{compressedOffsets: offsets, compressedSize: compressedSize}, nil
}

// BlockForUncompressedOffset is a simple fixed-stride division: BGZF blocks
// are all the same uncompressed size except possibly the last.
func (b *BGZF) BlockForUncompressedOffset(p int64) (int, error) {
	if p < 0 {
		return 0, fmt.Errorf("blockmap: negative uncompressed offset %d", p)
	}
	return int(p / BGZFStride), nil
}

// MaxBlockID returns the highest block id covered by the loaded sidecar.
func (b *BGZF) MaxBlockID() int { return len(b.compressedOffsets) - 1 }

func (b *BGZF) CompressedStart(blockID int) (int64, error) {
	if blockID < 0 || blockID > b.MaxBlockID() {
		return 0, fmt.Errorf("%w: block %d out of range [0,%d]", ffdberr.ErrCorruptBlockIndex, blockID, b.MaxBlockID())
	}
	return b.compressedOffsets[blockID], nil
}

func (b *BGZF) CompressedEnd(blockID int) (int64, error) {
	if blockID < 0 || blockID > b.MaxBlockID() {
		return 0, fmt.Errorf("%w: block %d out of range [0,%d]", ffdberr.ErrCorruptBlockIndex, blockID, b.MaxBlockID())
	}
	if blockID == b.MaxBlockID() {
		return b.compressedSize, nil
	}
	return b.compressedOffsets[blockID+1], nil
}

// UncompressedStart is a simple fixed-stride multiplication, the inverse of
// BlockForUncompressedOffset.
func (b *BGZF) UncompressedStart(blockID int) (int64, error) {
	if blockID < 0 || blockID > b.MaxBlockID() {
		return 0, fmt.Errorf("%w: block %d out of range [0,%d]", ffdberr.ErrCorruptBlockIndex, blockID, b.MaxBlockID())
	}
	return int64(blockID) * BGZFStride, nil
}

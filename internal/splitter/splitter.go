// Package splitter computes shard boundaries over a flatfile without
// breaking a line or an entry terminator (the C4 primitive C6's parallel
// indexer and C8's block-planning both build on).
package splitter

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// defaultProbeBufSize is the chunk size nextDelimiter reads at a time while
// scanning forward for the next terminator occurrence.
const defaultProbeBufSize = 16384

// EncodeTerminator rewrites `^`/`$` anchors in a terminator pattern to
// literal newlines, matching how a terminator expressed as a line-anchored
// regex (e.g. "^-$") is turned into the literal byte sequence actually
// searched for in the flatfile.
func EncodeTerminator(terminator string) []byte {
	if len(terminator) == 0 {
		return nil
	}
	b := []byte(terminator)
	if b[0] == '^' {
		b[0] = '\n'
	}
	if b[len(b)-1] == '$' {
		b[len(b)-1] = '\n'
	}
	return b
}

// Shard describes one contiguous, boundary-aligned byte range of a file.
type Shard struct {
	Start int64
	Size  int64
}

// End returns the shard's exclusive end offset.
func (s Shard) End() int64 { return s.Start + s.Size }

// Plan computes shard boundaries of approximately targetSize bytes each,
// snapping every boundary forward to the next newline so no line is ever
// split across two shards. It mirrors compute_split_positions's no-delimiter
// path.
func Plan(f *os.File, targetSize int64) ([]Shard, error) {
	return planWith(f, targetSize, nil)
}

// PlanOnTerminator computes shard boundaries the same way as Plan, but
// snaps each boundary forward to the next occurrence of terminator instead
// of the next newline, so no entry is ever split across two shards.
func PlanOnTerminator(f *os.File, targetSize int64, terminator []byte) ([]Shard, error) {
	if len(terminator) == 0 {
		return planWith(f, targetSize, nil)
	}
	return planWith(f, targetSize, terminator)
}

func planWith(f *os.File, targetSize int64, terminator []byte) ([]Shard, error) {
	if targetSize <= 0 {
		return nil, fmt.Errorf("splitter: target size must be positive, got %d", targetSize)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("splitter: stat: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	var shards []Shard
	start := int64(0)
	for start < size {
		var end int64
		if terminator == nil {
			end, err = nextNewline(f, size, start+targetSize)
		} else {
			end, err = nextDelimiter(f, size, start+targetSize, terminator)
		}
		if err != nil {
			return nil, err
		}
		shards = append(shards, Shard{Start: start, Size: end - start})
		if end == size {
			break
		}
		start = end
	}
	return shards, nil
}

// nextNewline returns the position of the first byte after the next
// newline at or after startpos, or size if none is found before EOF.
// startpos <= 0 snaps to the start of the file (no partial-line risk there).
func nextNewline(f *os.File, size, startpos int64) (int64, error) {
	if startpos > size {
		return size, nil
	}
	if startpos <= 0 {
		return 0, nil
	}
	r := bufio.NewReader(io.NewSectionReader(f, startpos-1, size-startpos+1))
	line, err := r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("splitter: scanning for newline: %w", err)
	}
	return startpos - 1 + int64(len(line)), nil
}

// nextDelimiter returns the position immediately after the first occurrence
// of terminator at or after startpos, or size if none is found.
func nextDelimiter(f *os.File, size, startpos int64, terminator []byte) (int64, error) {
	if startpos > size {
		return size, nil
	}
	bufSize := int64(defaultProbeBufSize)
	buf := make([]byte, bufSize)
	pos := startpos
	carry := 0
	for pos < size {
		n, err := f.ReadAt(buf[carry:], pos)
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("splitter: scanning for terminator: %w", err)
		}
		window := buf[:carry+n]
		if idx := bytes.Index(window, terminator); idx != -1 {
			return pos - int64(carry) + int64(idx) + int64(len(terminator)), nil
		}
		if n == 0 {
			break
		}
		// Keep the tail that might be a partial terminator match straddling
		// the next read.
		keep := len(terminator) - 1
		if keep > len(window) {
			keep = len(window)
		}
		copy(buf, window[len(window)-keep:])
		carry = keep
		pos += int64(n)
	}
	return size, nil
}

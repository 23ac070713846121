// Package sortedsearch implements binary search over a sorted, line-oriented
// text file (the C3 search primitive this project builds everything else
// on: the index is just such a file, one line per identifier).
package sortedsearch

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/flatfiledb/ffdb/internal/ffdberr"
)

// Mode selects which matching lines Search returns.
type Mode int

const (
	// First returns only the earliest matching line.
	First Mode = iota
	// Last returns only the latest matching line.
	Last
	// All returns every matching line, in file order.
	All
)

// maxProbeLine bounds how far Search will read past a probe point while
// discarding a possibly-truncated line. A sorted index line is never this
// long; hitting the bound means the file isn't the kind of data this
// package expects.
const maxProbeLine = 1 << 20

// Search performs a binary search for lines beginning with prefix in r, a
// reader over size bytes of sorted, newline-terminated text. It mirrors the
// "discard the partial line straddling the probe point, then read the next
// full line" algorithm: each probe seeks into the middle of the remaining
// range, skips forward to the next line boundary, and compares that line's
// prefix against the target to narrow the range.
//
// Returned line byte slices do not include the trailing newline.
func Search(r io.ReaderAt, size int64, prefix []byte, mode Mode) ([][]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	if len(prefix) == 0 {
		return nil, fmt.Errorf("sortedsearch: empty prefix")
	}

	lo, hi := int64(0), size-1
	for lo < hi {
		mid := (lo + hi) >> 1
		_, probeLine, err := readLineAfter(r, mid, size)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if len(probeLine) == 0 || bytes.Compare(prefix, probeLine) <= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	// lo == hi now brackets the first line that could match; read it fresh
	// from that boundary (the loop's last probe may have read a line
	// starting elsewhere in the range).
	startPos, firstLine, err := readLineAfter(r, lo, size)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if lo <= 0 {
		startPos = 0
		firstLine, err = readLine(r, 0, size)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	if !hasPrefix(firstLine, prefix) {
		return nil, nil
	}

	switch mode {
	case First:
		return [][]byte{firstLine}, nil
	case Last:
		last := firstLine
		pos := startPos + int64(len(firstLine)) + 1
		for {
			line, err := readLine(r, pos, size)
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			if !hasPrefix(line, prefix) {
				break
			}
			last = line
			pos += int64(len(line)) + 1
		}
		return [][]byte{last}, nil
	default: // All
		lines := [][]byte{firstLine}
		pos := startPos + int64(len(firstLine)) + 1
		for {
			line, err := readLine(r, pos, size)
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			if !hasPrefix(line, prefix) {
				break
			}
			lines = append(lines, line)
			pos += int64(len(line)) + 1
		}
		return lines, nil
	}
}

// readLineAfter discards the (possibly truncated) line straddling pos, then
// reads and returns the next full line along with the byte offset it starts
// at. If pos <= 0 it reads from the very start of the file instead.
func readLineAfter(r io.ReaderAt, pos, size int64) (int64, []byte, error) {
	if pos <= 0 {
		return readLine(r, 0, size)
	}
	br := newProbeReader(r, pos, size)
	if _, err := br.ReadBytes('\n'); err != nil && !errors.Is(err, io.EOF) {
		return 0, nil, err
	}
	startPos := pos + br.consumed
	return readLine(r, startPos, size)
}

// readLine reads one full newline-terminated line (sans the newline) at
// byte offset pos.
func readLine(r io.ReaderAt, pos, size int64) (int64, []byte, error) {
	if pos >= size {
		return pos, nil, io.EOF
	}
	br := newProbeReader(r, pos, size)
	line, err := br.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return pos, nil, err
	}
	return pos, bytes.TrimSuffix(line, []byte{'\n'}), nil
}

// probeReader is a minimal buffered reader over an io.ReaderAt window,
// tracking how many bytes it has handed back via ReadBytes so callers can
// recover the absolute file offset after a read. This must count bytes
// returned, not bytes bufio pulled into its internal buffer under the
// hood — those differ whenever the underlying fill reads ahead past the
// delimiter.
type probeReader struct {
	br       *bufio.Reader
	consumed int64
}

func newProbeReader(r io.ReaderAt, pos, size int64) *probeReader {
	sr := io.NewSectionReader(r, pos, size-pos)
	return &probeReader{br: bufio.NewReader(sr)}
}

func (p *probeReader) ReadBytes(delim byte) ([]byte, error) {
	line, err := p.br.ReadBytes(delim)
	p.consumed += int64(len(line))
	if len(line) > maxProbeLine {
		return nil, fmt.Errorf("%w: line exceeds %d bytes without a terminator", ffdberr.ErrMalformedIndex, maxProbeLine)
	}
	return line, err
}

func hasPrefix(line, prefix []byte) bool {
	return bytes.HasPrefix(line, prefix)
}

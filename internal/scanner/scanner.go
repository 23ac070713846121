// Package scanner yields successive terminator-delimited entries from a
// flatfile byte stream (the C5 primitive driving C6's per-shard indexing
// pass and C11's stream rewrite).
package scanner

import (
	"bytes"
	"fmt"
	"io"
)

// defaultBufSize matches ffdb.py's entry_generator default read chunk.
const defaultBufSize = 65536

// Scanner reads successive entries from r, each ending in (and including)
// terminator. The final partial entry after the last terminator occurrence,
// if any, is never yielded — it is not a complete entry.
type Scanner struct {
	r          io.Reader
	terminator []byte
	bufSize    int
	buf        []byte
	pos        int64
	err        error
	eof        bool
}

// NewScanner returns a Scanner over r that splits on terminator (the
// already-anchor-rewritten literal byte sequence, see splitter.EncodeTerminator).
// bufSize <= 0 uses the package default.
func NewScanner(r io.Reader, terminator []byte, bufSize int) (*Scanner, error) {
	if len(terminator) == 0 {
		return nil, fmt.Errorf("scanner: terminator must not be empty")
	}
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	return &Scanner{r: r, terminator: terminator, bufSize: bufSize}, nil
}

// Next returns the next complete entry (including its trailing terminator)
// and its starting byte offset within the stream. ok is false once no more
// complete entries remain; callers should then check Err.
func (s *Scanner) Next() (entry []byte, startPos int64, ok bool, err error) {
	for {
		if idx := bytes.Index(s.buf, s.terminator); idx != -1 {
			end := idx + len(s.terminator)
			entry = append([]byte(nil), s.buf[:end]...)
			startPos = s.pos
			s.buf = s.buf[end:]
			s.pos += int64(end)
			return entry, startPos, true, nil
		}
		if s.eof {
			return nil, 0, false, nil
		}
		if err := s.fill(); err != nil {
			s.err = err
			return nil, 0, false, err
		}
	}
}

// Err returns any I/O error encountered while scanning. It is nil if the
// stream was exhausted cleanly (even if a trailing partial entry remains
// unterminated and was dropped).
func (s *Scanner) Err() error { return s.err }

func (s *Scanner) fill() error {
	chunk := make([]byte, s.bufSize)
	n, err := s.r.Read(chunk)
	if n > 0 {
		s.buf = append(s.buf, chunk[:n]...)
	}
	if err == io.EOF {
		s.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("scanner: reading: %w", err)
	}
	return nil
}

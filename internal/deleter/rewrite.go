package deleter

import (
	"fmt"
	"io"
)

// countWriter tracks how many bytes have passed through Write, so the
// flatfile rewrite can verify its own output size without a second pass.
type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// DeleteEntries streams flatfile (size flatfileSize) into out, skipping each
// [position, position+length) run named in d, in ascending position order.
// It returns the number of bytes written and fails if that does not equal
// flatfileSize - d.TotalBytes(), mirroring remover.py's delete_entries size
// check.
func DeleteEntries(flatfile io.ReaderAt, flatfileSize int64, out io.Writer, d Deletions) (int64, error) {
	cw := &countWriter{w: out}
	var cursor int64

	for _, pos := range d.SortedPositions {
		p := int64(pos)
		if gap := p - cursor; gap > 0 {
			if _, err := io.Copy(cw, io.NewSectionReader(flatfile, cursor, gap)); err != nil {
				return 0, fmt.Errorf("deleter: copying bytes [%d,%d): %w", cursor, p, err)
			}
		}
		cursor = p + int64(d.Lengths[pos])
	}
	if tail := flatfileSize - cursor; tail > 0 {
		if _, err := io.Copy(cw, io.NewSectionReader(flatfile, cursor, tail)); err != nil {
			return 0, fmt.Errorf("deleter: copying tail [%d,%d): %w", cursor, flatfileSize, err)
		}
	}

	want := flatfileSize - int64(d.TotalBytes())
	if cw.n != want {
		return 0, fmt.Errorf("deleter: size mismatch after deletion: wrote %d bytes, expected %d (base %d minus %d removed)", cw.n, want, flatfileSize, d.TotalBytes())
	}
	return cw.n, nil
}

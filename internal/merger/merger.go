// Package merger implements the C7 Merger: append a delta flatfile (with
// its own already-built index) onto a base flatfile, re-basing every
// position in the delta's index by the base flatfile's size, then
// merge-sorting the two indexes into one.
package merger

import (
	"bufio"
	"container/heap"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

// maxLineSize bounds a single scanned index line; index lines are short
// (an identifier plus a handful of encoded integers), so this is generous.
const maxLineSize = 1 << 20

// Result summarizes a completed merge.
type Result struct {
	// ShiftedCount is the number of index lines re-based from the delta
	// index (== the number of identifiers it contributes to the merge).
	ShiftedCount int
}

// Merge appends deltaFFPath onto baseFFPath into newFFPath, and merges
// baseIndexPath with a shifted copy of deltaIndexPath into newIndexPath.
// It fails with ffdberr.ErrIncompatibleIndex if the two indexes differ in
// flavor, cipher, keysize, or checksum presence.
func Merge(baseFFPath, baseIndexPath, deltaFFPath, deltaIndexPath, newFFPath, newIndexPath string) (*Result, error) {
	baseMeta, err := classifyIndexFile(baseIndexPath)
	if err != nil {
		return nil, fmt.Errorf("merger: classifying base index: %w", err)
	}
	deltaMeta, err := classifyIndexFile(deltaIndexPath)
	if err != nil {
		return nil, fmt.Errorf("merger: classifying delta index: %w", err)
	}
	if err := baseMeta.compatibleWith(deltaMeta); err != nil {
		return nil, err
	}

	baseFI, err := os.Stat(baseFFPath)
	if err != nil {
		return nil, fmt.Errorf("merger: stat base flatfile: %w", err)
	}
	offset := baseFI.Size()

	var cipher codec.CipherType
	if baseMeta.flavor.HasEncryption() {
		cipher, err = codec.CipherTypeForKeySize(baseMeta.keysize)
		if err != nil {
			return nil, fmt.Errorf("merger: %w", err)
		}
	}

	shiftedTmp, err := os.CreateTemp("", "ffdb-merge-shifted-*.idx")
	if err != nil {
		return nil, fmt.Errorf("merger: creating shifted-index temp file: %w", err)
	}
	shiftedPath := shiftedTmp.Name()
	defer os.Remove(shiftedPath)

	shiftedCount, err := shiftIndexFile(deltaIndexPath, shiftedTmp, baseMeta.flavor, cipher, offset)
	shiftedTmp.Close()
	if err != nil {
		return nil, fmt.Errorf("merger: shifting delta index: %w", err)
	}

	if err := mergeSortedFiles([]string{baseIndexPath, shiftedPath}, newIndexPath); err != nil {
		return nil, fmt.Errorf("merger: merging indexes: %w", err)
	}

	if err := concatenateFiles([]string{baseFFPath, deltaFFPath}, newFFPath); err != nil {
		return nil, fmt.Errorf("merger: concatenating flatfiles: %w", err)
	}

	return &Result{ShiftedCount: shiftedCount}, nil
}

// indexMeta is what Classify tells us about an index file's encoding, read
// from its first line.
type indexMeta struct {
	flavor      indexfmt.Flavor
	cipherName  string
	keysize     int
	hasChecksum bool
}

func (m indexMeta) compatibleWith(other indexMeta) error {
	if m.flavor != other.flavor || m.cipherName != other.cipherName ||
		m.keysize != other.keysize || m.hasChecksum != other.hasChecksum {
		return fmt.Errorf("%w: base is flavor=%s cipher=%q keysize=%d checksum=%v, delta is flavor=%s cipher=%q keysize=%d checksum=%v",
			ffdberr.ErrIncompatibleIndex,
			m.flavor, m.cipherName, m.keysize, m.hasChecksum,
			other.flavor, other.cipherName, other.keysize, other.hasChecksum)
	}
	return nil
}

func classifyIndexFile(path string) (indexMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return indexMeta{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return indexMeta{}, err
		}
		return indexMeta{}, fmt.Errorf("%w: index file %q is empty", ffdberr.ErrMalformedIndex, path)
	}
	flavor, cipherName, keysize, hasChecksum, err := indexfmt.Classify(sc.Text())
	if err != nil {
		return indexMeta{}, err
	}
	return indexMeta{flavor: flavor, cipherName: cipherName, keysize: keysize, hasChecksum: hasChecksum}, nil
}

// shiftIndexFile streams srcPath line by line, re-basing each line's
// position field by offset, and writes the result to w. It mirrors
// ffdb.py's shift_index_file, but relies on bufio.Writer's own buffering
// instead of a hand-rolled string accumulator.
func shiftIndexFile(srcPath string, w io.Writer, flavor indexfmt.Flavor, cipher codec.CipherType, offset int64) (int, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	bw := bufio.NewWriter(w)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)

	count := 0
	for sc.Scan() {
		line := sc.Text()
		shifted, err := shiftLine(line, flavor, cipher, offset)
		if err != nil {
			return count, err
		}
		if _, err := bw.WriteString(shifted); err != nil {
			return count, err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return count, err
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return count, err
	}
	return count, bw.Flush()
}

// shiftLine re-bases one index line's position field. Callers never pass a
// FlavorNoPos line here: classifyIndexFile already rejects nopos indexes
// (Classify requires a field separator on the first line), so Merge never
// reaches this function with one.
func shiftLine(line string, flavor indexfmt.Flavor, cipher codec.CipherType, offset int64) (string, error) {
	cols := strings.SplitN(line, indexfmt.FieldSep, 3)
	if len(cols) < 2 {
		return "", fmt.Errorf("%w: line %q has too few columns", ffdberr.ErrMalformedIndex, line)
	}
	shifted, err := indexfmt.ShiftPositionField(flavor, cols[1], offset)
	if err != nil {
		return "", err
	}
	if len(cols) == 3 {
		return cols[0] + indexfmt.FieldSep + shifted + indexfmt.FieldSep + cols[2], nil
	}
	return cols[0] + indexfmt.FieldSep + shifted, nil
}

// fileHeapItem is one source file's current line in the streaming merge.
type fileHeapItem struct {
	line string
	sc   *bufio.Scanner
	src  int
}

type fileHeap []*fileHeapItem

func (h fileHeap) Len() int            { return len(h) }
func (h fileHeap) Less(i, j int) bool  { return h[i].line < h[j].line }
func (h fileHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *fileHeap) Push(x interface{}) { *h = append(*h, x.(*fileHeapItem)) }
func (h *fileHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeSortedFiles merge-sorts the already line-sorted files in paths into
// outPath, without loading any of them fully into memory — grounded on
// ffdb.py's mergesort_files (heapq.merge over open file handles).
func mergeSortedFiles(paths []string, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	bw := bufio.NewWriter(out)

	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	h := &fileHeap{}
	for i, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		files = append(files, f)
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 4096), maxLineSize)
		if sc.Scan() {
			heap.Push(h, &fileHeapItem{line: sc.Text(), sc: sc, src: i})
		} else if err := sc.Err(); err != nil {
			return err
		}
	}

	for h.Len() > 0 {
		item := heap.Pop(h).(*fileHeapItem)
		if _, err := bw.WriteString(item.line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		if item.sc.Scan() {
			item.line = item.sc.Text()
			heap.Push(h, item)
		} else if err := item.sc.Err(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// concatenateFiles streams each of paths, in order, into a freshly created
// outPath.
func concatenateFiles(paths []string, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, p := range paths {
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return err
		}
	}
	return out.Sync()
}

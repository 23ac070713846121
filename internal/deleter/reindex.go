package deleter

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

// cumulativeOffsets maps each removed position to the total bytes removed by
// it and every removed position before it. shiftOffset then finds, for any
// surviving position, the largest such cumulative offset at a removed
// position not after it — the amount that position must shift left by.
func cumulativeOffsets(d Deletions) map[uint64]uint64 {
	offsets := make(map[uint64]uint64, len(d.SortedPositions))
	var running uint64
	for _, pos := range d.SortedPositions {
		running += d.Lengths[pos]
		offsets[pos] = running
	}
	return offsets
}

// shiftOffset finds the cumulative offset to subtract from position, via
// binary search over d's sorted positions. remover.py's find_shift_offset
// does the equivalent lookup with a linear reverse scan; the position list
// is already sorted here, so binary search replaces it.
func shiftOffset(position uint64, d Deletions, offsets map[uint64]uint64) uint64 {
	sp := d.SortedPositions
	if len(sp) == 0 || position < sp[0] {
		return 0
	}
	i := sort.Search(len(sp), func(i int) bool { return sp[i] > position }) - 1
	if i < 0 {
		return 0
	}
	return offsets[sp[i]]
}

// RewriteIndex streams r (one index line per row, given flavor/cipher) into
// w, dropping any line whose position is itself being deleted and shifting
// every surviving position left by the cumulative size of deletions at or
// before it. Mirrors remover.py's update_index_after_deletions.
func RewriteIndex(r io.Reader, w io.Writer, flavor indexfmt.Flavor, cipher codec.CipherType, d Deletions) (kept, dropped int, err error) {
	offsets := cumulativeOffsets(d)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	bw := bufio.NewWriter(w)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if flavor == indexfmt.FlavorNoPos {
			// nopos indexes carry no positions to shift or drop by.
			if _, err := bw.WriteString(line + "\n"); err != nil {
				return kept, dropped, err
			}
			kept++
			continue
		}

		cols := strings.SplitN(line, indexfmt.FieldSep, 3)
		if len(cols) < 2 {
			return kept, dropped, fmt.Errorf("deleter: index line %q has too few columns", line)
		}
		position, length, iv, _, err := indexfmt.ParsePositionField(flavor, cols[1])
		if err != nil {
			return kept, dropped, err
		}
		if _, removed := d.Lengths[position]; removed {
			dropped++
			continue
		}

		shift := shiftOffset(position, d, offsets)
		newField, err := indexfmt.FormatPositionField(flavor, cipher, indexfmt.EntryInput{
			Position: position - shift,
			Length:   length,
			IV:       iv,
		})
		if err != nil {
			return kept, dropped, err
		}

		out := cols[0] + indexfmt.FieldSep + newField
		if len(cols) == 3 {
			out += indexfmt.FieldSep + cols[2]
		}
		if _, err := bw.WriteString(out + "\n"); err != nil {
			return kept, dropped, err
		}
		kept++
	}
	if err := scanner.Err(); err != nil {
		return kept, dropped, fmt.Errorf("deleter: scanning index: %w", err)
	}
	return kept, dropped, bw.Flush()
}

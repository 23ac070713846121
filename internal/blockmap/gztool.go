package blockmap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/flatfiledb/ffdb/internal/ffdberr"
)

// reGzIndexPoint matches one gztool -ll index-point field, e.g.
// "#12: @ 193820 / 1048576 L18 ...". Only the point number, compressed byte
// offset, and uncompressed byte offset are used here.
var reGzIndexPoint = regexp.MustCompile(`^#([0-9]+): @ ([0-9]+) / ([0-9]+)`)

// GzToolRunner abstracts invoking the external gztool binary, so the
// production path can exec it while tests supply canned output. Invoking
// gztool itself is the one out-of-process collaborator this package
// deliberately doesn't own the implementation of.
type GzToolRunner interface {
	// ListIndexPoints runs the equivalent of `gztool -ll gzIndexPath` and
	// returns its stdout.
	ListIndexPoints(ctx context.Context, gzIndexPath string) (io.Reader, error)
}

// ExecGzToolRunner invokes a real gztool binary on PATH (or at Path, if
// set).
type ExecGzToolRunner struct {
	Path string // defaults to "gztool"
}

func (r ExecGzToolRunner) ListIndexPoints(ctx context.Context, gzIndexPath string) (io.Reader, error) {
	bin := r.Path
	if bin == "" {
		bin = "gztool"
	}
	cmd := exec.CommandContext(ctx, bin, "-ll", gzIndexPath)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("blockmap: running gztool -ll %s: %w", gzIndexPath, err)
	}
	return strings.NewReader(string(out)), nil
}

// GzTool is a BlockMap backed by gztool's variable-stride index, built by
// invoking gztool and parsing its numbered index points.
type GzTool struct {
	// uncompressedOffsets[i] and compressedOffsets[i] are index point i+1's
	// (0-indexed) uncompressed/compressed byte offsets, both ascending.
	uncompressedOffsets []int64
	compressedOffsets   []int64
	compressedSize      int64
}

// LoadGzToolIndex builds a GzTool block map by running runner against
// gzIndexPath. compressedSize is the size in bytes of the compressed
// flatfile the index describes.
func LoadGzToolIndex(ctx context.Context, runner GzToolRunner, gzIndexPath string, compressedSize int64) (*GzTool, error) {
	r, err := runner.ListIndexPoints(ctx, gzIndexPath)
	if err != nil {
		return nil, err
	}

	var uncompressedOffsets, compressedOffsets []int64
	expected := 1
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		for _, field := range strings.Split(sc.Text(), ", ") {
			m := reGzIndexPoint.FindStringSubmatch(strings.TrimSpace(field))
			if m == nil {
				continue
			}
			pointNum, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("%w: bad index point number %q", ffdberr.ErrCorruptBlockIndex, m[1])
			}
			if pointNum != expected {
				return nil, fmt.Errorf("%w: index points out of sequence: got #%d, expected #%d", ffdberr.ErrCorruptBlockIndex, pointNum, expected)
			}
			expected++

			compressedOffset, err := strconv.ParseInt(m[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad compressed offset %q", ffdberr.ErrCorruptBlockIndex, m[2])
			}
			uncompressedOffset, err := strconv.ParseInt(m[3], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad uncompressed offset %q", ffdberr.ErrCorruptBlockIndex, m[3])
			}
			compressedOffsets = append(compressedOffsets, compressedOffset)
			uncompressedOffsets = append(uncompressedOffsets, uncompressedOffset)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("blockmap: reading gztool output: %w", err)
	}
	if len(uncompressedOffsets) == 0 {
		return nil, fmt.Errorf("%w: gztool produced no index points", ffdberr.ErrCorruptBlockIndex)
	}

	return &GzTool{
		uncompressedOffsets: uncompressedOffsets,
		compressedOffsets:   compressedOffsets,
		compressedSize:      compressedSize,
	}, nil
}

func (g *GzTool) MaxBlockID() int { return len(g.uncompressedOffsets) - 1 }

// BlockForUncompressedOffset finds the largest index point whose
// uncompressed offset is <= p, the block holding p.
func (g *GzTool) BlockForUncompressedOffset(p int64) (int, error) {
	if p < 0 {
		return 0, fmt.Errorf("blockmap: negative uncompressed offset %d", p)
	}
	if p == 0 {
		return 0, nil
	}
	i := sort.Search(len(g.uncompressedOffsets), func(i int) bool {
		return g.uncompressedOffsets[i] > p
	}) - 1
	if i < 0 {
		return 0, nil
	}
	return i, nil
}

func (g *GzTool) CompressedStart(blockID int) (int64, error) {
	if blockID < 0 || blockID > g.MaxBlockID() {
		return 0, fmt.Errorf("%w: block %d out of range [0,%d]", ffdberr.ErrCorruptBlockIndex, blockID, g.MaxBlockID())
	}
	if blockID == 0 {
		return 0, nil
	}
	// One byte before the index point's own compressed offset, giving the
	// decoder the context byte it needs.
	return g.compressedOffsets[blockID] - 1, nil
}

func (g *GzTool) CompressedEnd(blockID int) (int64, error) {
	if blockID < 0 || blockID > g.MaxBlockID() {
		return 0, fmt.Errorf("%w: block %d out of range [0,%d]", ffdberr.ErrCorruptBlockIndex, blockID, g.MaxBlockID())
	}
	if blockID == g.MaxBlockID() {
		return g.compressedSize, nil
	}
	return g.compressedOffsets[blockID+1], nil
}

// UncompressedStart returns index point blockID's own uncompressed byte
// offset, the inverse of BlockForUncompressedOffset.
func (g *GzTool) UncompressedStart(blockID int) (int64, error) {
	if blockID < 0 || blockID > g.MaxBlockID() {
		return 0, fmt.Errorf("%w: block %d out of range [0,%d]", ffdberr.ErrCorruptBlockIndex, blockID, g.MaxBlockID())
	}
	return g.uncompressedOffsets[blockID], nil
}

package blockmap

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/flatfiledb/ffdb/internal/ffdberr"
	"github.com/stretchr/testify/require"
)

func buildGZI(t *testing.T, pairs [][2]uint64) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(pairs))))
	for _, p := range pairs {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, p[0]))
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, p[1]))
	}
	return bytes.NewReader(buf.Bytes())
}

func TestLoadGZIParsesEntries(t *testing.T) {
	r := buildGZI(t, [][2]uint64{{1000, 65280}, {2100, 130560}})
	bg, err := LoadGZI(r, 3000)
	require.NoError(t, err)
	require.Equal(t, 2, bg.MaxBlockID())

	start0, err := bg.CompressedStart(0)
	require.NoError(t, err)
	require.Equal(t, int64(0), start0)

	start1, err := bg.CompressedStart(1)
	require.NoError(t, err)
	require.Equal(t, int64(1000), start1)

	end1, err := bg.CompressedEnd(1)
	require.NoError(t, err)
	require.Equal(t, int64(2100), end1)

	end2, err := bg.CompressedEnd(2)
	require.NoError(t, err)
	require.Equal(t, int64(3000), end2)
}

func TestLoadGZIRejectsTruncatedInput(t *testing.T) {
	_, err := LoadGZI(strings.NewReader(""), 100)
	require.ErrorIs(t, err, ffdberr.ErrCorruptBlockIndex)
}

func TestBGZFBlockForUncompressedOffsetDividesByStride(t *testing.T) {
	r := buildGZI(t, [][2]uint64{{1000, 65280}})
	bg, err := LoadGZI(r, 2000)
	require.NoError(t, err)

	id, err := bg.BlockForUncompressedOffset(0)
	require.NoError(t, err)
	require.Equal(t, 0, id)

	id, err = bg.BlockForUncompressedOffset(65280)
	require.NoError(t, err)
	require.Equal(t, 1, id)

	id, err = bg.BlockForUncompressedOffset(65279)
	require.NoError(t, err)
	require.Equal(t, 0, id)
}

func TestBGZFCompressedStartRejectsOutOfRange(t *testing.T) {
	r := buildGZI(t, [][2]uint64{{1000, 65280}})
	bg, err := LoadGZI(r, 2000)
	require.NoError(t, err)
	_, err = bg.CompressedStart(5)
	require.ErrorIs(t, err, ffdberr.ErrCorruptBlockIndex)
}

type fakeGzToolRunner struct {
	output string
}

func (f fakeGzToolRunner) ListIndexPoints(ctx context.Context, gzIndexPath string) (io.Reader, error) {
	return strings.NewReader(f.output), nil
}

func TestLoadGzToolIndexParsesIndexPoints(t *testing.T) {
	output := "#1: @ 500 / 100000 L10, #2: @ 1200 / 200000 L12\n#3: @ 2000 / 300000 L9\n"
	gt, err := LoadGzToolIndex(context.Background(), fakeGzToolRunner{output}, "fake.gzi", 5000)
	require.NoError(t, err)
	require.Equal(t, 2, gt.MaxBlockID())

	start0, err := gt.CompressedStart(0)
	require.NoError(t, err)
	require.Equal(t, int64(0), start0)

	start1, err := gt.CompressedStart(1)
	require.NoError(t, err)
	require.Equal(t, int64(1199), start1) // one byte of context before the reported offset

	end1, err := gt.CompressedEnd(1)
	require.NoError(t, err)
	require.Equal(t, int64(2000), end1)

	end2, err := gt.CompressedEnd(2)
	require.NoError(t, err)
	require.Equal(t, int64(5000), end2)
}

func TestLoadGzToolIndexRejectsOutOfSequencePoints(t *testing.T) {
	output := "#1: @ 500 / 100000\n#3: @ 2000 / 300000\n"
	_, err := LoadGzToolIndex(context.Background(), fakeGzToolRunner{output}, "fake.gzi", 5000)
	require.ErrorIs(t, err, ffdberr.ErrCorruptBlockIndex)
}

func TestLoadGzToolIndexRejectsEmptyOutput(t *testing.T) {
	_, err := LoadGzToolIndex(context.Background(), fakeGzToolRunner{""}, "fake.gzi", 5000)
	require.ErrorIs(t, err, ffdberr.ErrCorruptBlockIndex)
}

func TestGzToolBlockForUncompressedOffsetBinarySearch(t *testing.T) {
	output := "#1: @ 500 / 100000\n#2: @ 1200 / 200000\n#3: @ 2000 / 300000\n"
	gt, err := LoadGzToolIndex(context.Background(), fakeGzToolRunner{output}, "fake.gzi", 5000)
	require.NoError(t, err)

	id, err := gt.BlockForUncompressedOffset(0)
	require.NoError(t, err)
	require.Equal(t, 0, id)

	id, err = gt.BlockForUncompressedOffset(100000)
	require.NoError(t, err)
	require.Equal(t, 0, id)

	id, err = gt.BlockForUncompressedOffset(150000)
	require.NoError(t, err)
	require.Equal(t, 0, id)

	id, err = gt.BlockForUncompressedOffset(200001)
	require.NoError(t, err)
	require.Equal(t, 1, id)

	id, err = gt.BlockForUncompressedOffset(999999)
	require.NoError(t, err)
	require.Equal(t, 2, id)
}

package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"

	"github.com/flatfiledb/ffdb/internal/blockmap"
	"github.com/flatfiledb/ffdb/internal/cache"
	"github.com/flatfiledb/ffdb/internal/httpfetch"
)

// Fetcher retrieves the raw stored bytes for one Request — before any
// decrypt/inflate/checksum post-processing — from whichever backing source
// an extraction run is configured against.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// LocalPlain reads directly from an uncompressed local flatfile.
type LocalPlain struct {
	File io.ReaderAt
}

func (f LocalPlain) Fetch(ctx context.Context, req Request) ([]byte, error) {
	buf := make([]byte, req.Length)
	if _, err := f.File.ReadAt(buf, int64(req.Position)); err != nil {
		return nil, fmt.Errorf("extractor: reading local plain entry at %d: %w", req.Position, err)
	}
	return buf, nil
}

// RemotePlain reads an uncompressed flatfile served over HTTP via Range GET.
type RemotePlain struct {
	Client *http.Client
	URL    string
}

func (f RemotePlain) Fetch(ctx context.Context, req Request) ([]byte, error) {
	return httpfetch.FetchRange(ctx, f.Client, f.URL, int64(req.Position), int64(req.Position+req.Length-1))
}

// blockSpanInfo is the compressed byte range that must be decompressed to
// recover an uncompressed [position, position+length) window, plus where
// that window lands inside the decompressed span.
type blockSpanInfo struct {
	startBlock, endBlock           int
	compressedStart, compressedEnd int64 // [compressedStart, compressedEnd)
	innerOffset                    int64 // req.Position's offset within the decompressed span
}

// computeBlockSpan finds the minimal run of blocks covering [position,
// position+length) and the byte range inside their decompressed
// concatenation where that window lives.
func computeBlockSpan(bm blockmap.BlockMap, position, length uint64) (blockSpanInfo, error) {
	if length == 0 {
		return blockSpanInfo{}, fmt.Errorf("extractor: zero-length request")
	}
	startBlock, err := bm.BlockForUncompressedOffset(int64(position))
	if err != nil {
		return blockSpanInfo{}, err
	}
	endBlock, err := bm.BlockForUncompressedOffset(int64(position + length - 1))
	if err != nil {
		return blockSpanInfo{}, err
	}
	compressedStart, err := bm.CompressedStart(startBlock)
	if err != nil {
		return blockSpanInfo{}, err
	}
	compressedEnd, err := bm.CompressedEnd(endBlock)
	if err != nil {
		return blockSpanInfo{}, err
	}
	uncompressedSpanStart, err := bm.UncompressedStart(startBlock)
	if err != nil {
		return blockSpanInfo{}, err
	}
	return blockSpanInfo{
		startBlock:      startBlock,
		endBlock:        endBlock,
		compressedStart: compressedStart,
		compressedEnd:   compressedEnd,
		innerOffset:     int64(position) - uncompressedSpanStart,
	}, nil
}

// decodeSpan gunzips compressed (a run of one or more concatenated gzip/BGZF
// members) and slices out [innerOffset, innerOffset+length). klauspost's
// gzip.Reader defaults to multistream mode, so a span spanning several BGZF
// blocks decodes as the concatenation of their members, same as Python's
// gzip.decompress on concatenated streams.
func decodeSpan(compressed []byte, bs blockSpanInfo, length uint64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("extractor: opening block span gzip stream: %w", err)
	}
	defer zr.Close()
	decompressed, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("extractor: decompressing block span: %w", err)
	}
	end := bs.innerOffset + int64(length)
	if end > int64(len(decompressed)) {
		return nil, fmt.Errorf("extractor: decompressed span too short: need %d bytes, got %d", end, len(decompressed))
	}
	return decompressed[bs.innerOffset:end], nil
}

// LocalCompressed reads from a local bgzip- or gztool-indexed compressed
// flatfile: decode only the minimal block span, then trim.
type LocalCompressed struct {
	File     io.ReaderAt
	BlockMap blockmap.BlockMap
}

func (f LocalCompressed) Fetch(ctx context.Context, req Request) ([]byte, error) {
	bs, err := computeBlockSpan(f.BlockMap, req.Position, req.Length)
	if err != nil {
		return nil, err
	}
	compressed := make([]byte, bs.compressedEnd-bs.compressedStart)
	if _, err := f.File.ReadAt(compressed, bs.compressedStart); err != nil {
		return nil, fmt.Errorf("extractor: reading local compressed span [%d,%d): %w", bs.compressedStart, bs.compressedEnd, err)
	}
	return decodeSpan(compressed, bs, req.Length)
}

// RemoteCompressed reads from a remote bgzip- or gztool-indexed compressed
// flatfile. If Cache is non-nil, fetched block spans are persisted and
// reused via the C9 cache manager; otherwise every request issues its own
// Range GET and decodes in memory.
type RemoteCompressed struct {
	Client *http.Client
	URL    string

	BlockMap blockmap.BlockMap
	Cache    *cache.Manager // nil: fetch directly, no on-disk cache
}

func (f RemoteCompressed) Fetch(ctx context.Context, req Request) ([]byte, error) {
	bs, err := computeBlockSpan(f.BlockMap, req.Position, req.Length)
	if err != nil {
		return nil, err
	}

	if f.Cache == nil {
		compressed, err := httpfetch.FetchRange(ctx, f.Client, f.URL, bs.compressedStart, bs.compressedEnd-1)
		if err != nil {
			return nil, err
		}
		return decodeSpan(compressed, bs, req.Length)
	}

	path, served, release, err := f.Cache.Serve(ctx, cache.Span{Start: bs.startBlock, End: bs.endBlock})
	if err != nil {
		return nil, err
	}
	defer release()

	servedCompressedStart, err := f.BlockMap.CompressedStart(served.Start)
	if err != nil {
		return nil, err
	}

	cf, releaseFile, err := f.Cache.OpenSpanFile(path)
	if err != nil {
		return nil, err
	}
	defer releaseFile()

	compressed := make([]byte, bs.compressedEnd-bs.compressedStart)
	if _, err := cf.ReadAt(compressed, bs.compressedStart-servedCompressedStart); err != nil {
		return nil, fmt.Errorf("extractor: reading cached span file %s: %w", path, err)
	}
	return decodeSpan(compressed, bs, req.Length)
}

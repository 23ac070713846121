package extractor

import (
	"regexp"
	"strconv"
)

// compressRatioPattern matches gztool -l's "Compression factor" summary
// line, e.g. "\tCompression factor : 25.30%, ...".
var compressRatioPattern = regexp.MustCompile(`(?m)^\tCompression factor\s*:\s*([0-9.]+)%`)

// overDownloadBasisPoints is the conservative margin (in basis points of the
// estimated ratio) added atop a compress-ratio-based size estimate, so an
// over-download errs generous rather than short. 6000 basis points (60%
// extra headroom atop the estimated compressed size) matches extractor.py's
// OVERDLFACTOR.
const overDownloadBasisPoints = 6000

// ParseCompressRatio extracts the compression factor percentage (e.g. 25.30
// for "25.30%") from a gztool -l listing, for runs that want to report or
// budget an expected download size before fetching. It returns ok=false if
// no such line is present.
func ParseCompressRatio(gztoolListing string) (percent float64, ok bool) {
	m := compressRatioPattern.FindStringSubmatch(gztoolListing)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// EstimateCompressedLength scales an uncompressed length by a compression
// ratio percentage with overDownloadBasisPoints of headroom, used only to
// budget/report an expected download size ahead of a fetch; the actual
// fetch, when a block map is available, always uses the block map's exact
// CompressedStart/CompressedEnd instead of this estimate.
func EstimateCompressedLength(uncompressedLength int64, compressRatioPercent float64) int64 {
	ratio := compressRatioPercent / 100
	margin := ratio * float64(overDownloadBasisPoints) / 10000
	return int64(float64(uncompressedLength)*(ratio+margin)) + 1
}

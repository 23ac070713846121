package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/flatfiledb/ffdb/internal/codec"
	"github.com/flatfiledb/ffdb/internal/ffdberr"
	"github.com/flatfiledb/ffdb/internal/indexfmt"
)

// indexMeta is what an index file's first line reveals about its encoding.
type indexMeta struct {
	flavor      indexfmt.Flavor
	cipherName  string
	keysize     int
	hasChecksum bool
}

func classifyIndexFile(path string) (indexMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return indexMeta{}, ffdberr.Exitf(ffdberr.ExitFileNotFound, "ffdb: opening index: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return indexMeta{}, err
		}
		return indexMeta{}, ffdberr.Exitf(ffdberr.ExitArg, "ffdb: index file %q is empty", path)
	}
	flavor, cipherName, keysize, hasChecksum, err := indexfmt.Classify(sc.Text())
	if err != nil {
		return indexMeta{}, ffdberr.Exit(ffdberr.ExitArg, err)
	}
	return indexMeta{flavor: flavor, cipherName: cipherName, keysize: keysize, hasChecksum: hasChecksum}, nil
}

func (m indexMeta) cipherType() (codec.CipherType, error) {
	if !m.flavor.HasEncryption() {
		return codec.CipherType(0), nil
	}
	ct, err := codec.CipherTypeForKeySize(m.keysize)
	if err != nil {
		return 0, fmt.Errorf("ffdb: %w", err)
	}
	return ct, nil
}

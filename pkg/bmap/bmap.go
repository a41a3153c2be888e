// Package bmap generates block-map side-car files for device images.
// The output follows the bmaptool 2.0 XML layout: flashing tools use it to
// write only the occupied block ranges of an image and to verify each range
// with its checksum.
package bmap

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/edgeimage/imagectl/pkg/compression"
	"github.com/edgeimage/imagectl/pkg/errors"
)

// BlockSize is the mapping granularity in bytes.
const BlockSize = 4096

// SidecarPath returns the bmap path that belongs to an output image: the
// image name with any compression suffix stripped, plus ".bmap". The bmap
// always describes the plain image, whatever packaging it ships in.
func SidecarPath(imagePath string) string {
	return compression.StripExt(imagePath) + ".bmap"
}

// checksumPlaceholder stands in for the self-checksum while it is computed,
// one '0' per hex digit of a sha256 sum.
const checksumPlaceholder = "0000000000000000000000000000000000000000000000000000000000000000"

type blockRange struct {
	first    int64
	last     int64
	checksum string
}

// Generate scans imagePath and writes <imagePath>.bmap describing the
// occupied block ranges. Returns the path of the side-car file.
func Generate(imagePath string) (string, error) {
	bmapPath := imagePath + ".bmap"
	slog.Info("bmap_generation_started", "image", imagePath)

	f, err := os.Open(imagePath)
	if err != nil {
		return "", errors.Tag(errors.ErrIO, err, fmt.Sprintf("bmap: open %s", imagePath))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", errors.Tag(errors.ErrIO, err, fmt.Sprintf("bmap: stat %s", imagePath))
	}
	size := info.Size()

	ranges, mapped, err := scanRanges(f, size)
	if err != nil {
		return "", errors.Tag(errors.ErrIO, err, fmt.Sprintf("bmap: scan %s", imagePath))
	}

	blocksCount := (size + BlockSize - 1) / BlockSize
	doc := render(size, blocksCount, mapped, ranges)

	// self-checksum is computed over the document with the checksum field
	// zeroed, then substituted in
	sum := sha256.Sum256([]byte(doc))
	doc = strings.Replace(doc, checksumPlaceholder, hex.EncodeToString(sum[:]), 1)

	if err := os.WriteFile(bmapPath, []byte(doc), 0644); err != nil {
		return "", errors.Tag(errors.ErrIO, err, fmt.Sprintf("bmap: write %s", bmapPath))
	}

	slog.Info("bmap_generation_complete",
		"bmap", bmapPath,
		"blocks", blocksCount,
		"mapped_blocks", mapped,
		"ranges", len(ranges))
	return bmapPath, nil
}

// scanRanges walks the image once at BlockSize granularity, coalescing runs
// of non-zero blocks into checksummed ranges. Blocks that contain only
// zeroes need not be flashed and are left unmapped.
func scanRanges(r io.Reader, size int64) ([]blockRange, int64, error) {
	var (
		ranges    []blockRange
		mapped    int64
		run       hash.Hash
		runStart  int64 = -1
		zero      [BlockSize]byte
		buf       [BlockSize]byte
		blockIdx  int64
		remaining = size
	)

	endRun := func(lastBlock int64) {
		ranges = append(ranges, blockRange{
			first:    runStart,
			last:     lastBlock,
			checksum: hex.EncodeToString(run.Sum(nil)),
		})
		mapped += lastBlock - runStart + 1
		runStart = -1
	}

	for remaining > 0 {
		n := int64(BlockSize)
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return nil, 0, err
		}
		remaining -= n

		if bytes.Equal(buf[:n], zero[:n]) {
			if runStart >= 0 {
				endRun(blockIdx - 1)
			}
		} else {
			if runStart < 0 {
				runStart = blockIdx
				run = sha256.New()
			}
			run.Write(buf[:n])
		}
		blockIdx++
	}
	if runStart >= 0 {
		endRun(blockIdx - 1)
	}

	return ranges, mapped, nil
}

func render(size, blocksCount, mapped int64, ranges []blockRange) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" ?>\n")
	b.WriteString("<bmap version=\"2.0\">\n")
	fmt.Fprintf(&b, "    <ImageSize> %d </ImageSize>\n", size)
	fmt.Fprintf(&b, "    <BlockSize> %d </BlockSize>\n", BlockSize)
	fmt.Fprintf(&b, "    <BlocksCount> %d </BlocksCount>\n", blocksCount)
	fmt.Fprintf(&b, "    <MappedBlocksCount> %d </MappedBlocksCount>\n", mapped)
	b.WriteString("    <ChecksumType> sha256 </ChecksumType>\n")
	fmt.Fprintf(&b, "    <BmapFileChecksum> %s </BmapFileChecksum>\n", checksumPlaceholder)
	b.WriteString("    <BlockMap>\n")
	for _, r := range ranges {
		if r.first == r.last {
			fmt.Fprintf(&b, "        <Range chksum=\"%s\"> %d </Range>\n", r.checksum, r.first)
		} else {
			fmt.Fprintf(&b, "        <Range chksum=\"%s\"> %d-%d </Range>\n", r.checksum, r.first, r.last)
		}
	}
	b.WriteString("    </BlockMap>\n")
	b.WriteString("</bmap>\n")
	return b.String()
}

//go:build linux

package sparse

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// copyRanges walks the source's allocated extents with SEEK_DATA/SEEK_HOLE
// and copies only those. Filesystems without extent reporting (and files
// with no holes to report) fall back to zero-run detection.
func copyRanges(in, out *os.File, size int64) error {
	dataStart, err := in.Seek(0, unix.SEEK_DATA)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			// file is one big hole
			return nil
		}
		// SEEK_DATA unsupported here, take the portable path
		if _, err := in.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return copyZeroDetect(in, out)
	}

	for {
		holeStart, err := in.Seek(dataStart, unix.SEEK_HOLE)
		if err != nil {
			return err
		}

		if _, err := in.Seek(dataStart, io.SeekStart); err != nil {
			return err
		}
		if _, err := out.Seek(dataStart, io.SeekStart); err != nil {
			return err
		}
		if _, err := io.CopyN(out, in, holeStart-dataStart); err != nil {
			return err
		}

		if holeStart >= size {
			return nil
		}
		dataStart, err = in.Seek(holeStart, unix.SEEK_DATA)
		if err != nil {
			if errors.Is(err, unix.ENXIO) {
				// nothing allocated after the last hole
				return nil
			}
			return err
		}
	}
}

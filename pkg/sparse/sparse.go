// Package sparse copies files while preserving holes. Device images are
// mostly unallocated space; a plain byte copy would materialize every hole
// and turn a 300MB image into its multi-gigabyte logical size on disk.
package sparse

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/edgeimage/imagectl/pkg/errors"
)

// zeroScanBlock is the granularity of zero-run detection on the fallback
// path. 128KiB keeps syscall overhead low without holding much memory.
const zeroScanBlock = 128 * 1024

// CopyFile copies src to dst without materializing holes, streaming with a
// fixed-size buffer. dst is truncated to src's logical size so trailing
// holes survive the copy.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("sparse copy: open %s", src))
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("sparse copy: stat %s", src))
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("sparse copy: create %s", dst))
	}

	if err := copyRanges(in, out, info.Size()); err != nil {
		out.Close()
		os.Remove(dst)
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("sparse copy: %s -> %s", src, dst))
	}

	// logical size must match even when the file ends in a hole
	if err := out.Truncate(info.Size()); err != nil {
		out.Close()
		os.Remove(dst)
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("sparse copy: truncate %s", dst))
	}
	if err := out.Close(); err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("sparse copy: close %s", dst))
	}

	slog.Info("sparse_copy_complete", "src", src, "dst", dst, "size", info.Size())
	return nil
}

var zeroBlock [zeroScanBlock]byte

// copyZeroDetect copies in to out, seeking over blocks that are entirely
// zero so the destination filesystem allocates nothing for them.
func copyZeroDetect(in io.Reader, out *os.File) error {
	buf := make([]byte, zeroScanBlock)
	for {
		n, readErr := io.ReadFull(in, buf)
		if n > 0 {
			if bytes.Equal(buf[:n], zeroBlock[:n]) {
				if _, err := out.Seek(int64(n), io.SeekCurrent); err != nil {
					return err
				}
			} else if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// Package compression detects and converts the compression formats used for
// device image files (gzip, xz, zstd). Detection is by file extension, the
// same convention flashing tools use for .wic.gz / .wic.xz artifacts.
package compression

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// Codec identifies a supported compression format. The zero value means
// the file is a plain image.
type Codec string

const (
	None Codec = ""
	Gzip Codec = "gzip"
	Xz   Codec = "xz"
	Zstd Codec = "zstd"
)

// Parse converts a user-supplied codec name into a Codec.
func Parse(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "":
		return None, nil
	case "gzip", "gz":
		return Gzip, nil
	case "xz":
		return Xz, nil
	case "zstd", "zst":
		return Zstd, nil
	default:
		return None, errors.Tagf(errors.ErrPrecondition, "unknown compression %q (supported: gzip, xz, zstd)", name)
	}
}

// Ext returns the file extension the codec appends, including the dot.
func (c Codec) Ext() string {
	switch c {
	case Gzip:
		return ".gz"
	case Xz:
		return ".xz"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

// FromPath inspects a file path's extension and returns the codec it
// indicates, or None for plain images and unrecognized suffixes.
func FromPath(path string) Codec {
	switch {
	case strings.HasSuffix(path, ".gz"), strings.HasSuffix(path, ".gzip"):
		return Gzip
	case strings.HasSuffix(path, ".xz"):
		return Xz
	case strings.HasSuffix(path, ".zst"), strings.HasSuffix(path, ".zstd"):
		return Zstd
	default:
		return None
	}
}

// stripExt removes the compression suffix from a path, whichever of the
// codec's recognized spellings it carries.
func stripExt(path string, c Codec) string {
	var suffixes []string
	switch c {
	case Gzip:
		suffixes = []string{".gz", ".gzip"}
	case Xz:
		suffixes = []string{".xz"}
	case Zstd:
		suffixes = []string{".zst", ".zstd"}
	}
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return strings.TrimSuffix(path, s)
		}
	}
	return path
}

// StripExt removes a recognized compression suffix from path, in any of
// its spellings. Plain paths come back unchanged.
func StripExt(path string) string {
	return stripExt(path, FromPath(path))
}

// Decompress expands path with the given codec and returns the path of the
// plain file (path with the compression suffix stripped). The compressed
// input is left in place.
func Decompress(path string, c Codec) (string, error) {
	if c == None {
		return path, nil
	}
	out := stripExt(path, c)
	if out == path {
		out = path + ".plain"
	}
	slog.Info("decompress_started", "path", path, "codec", c)

	in, err := os.Open(path)
	if err != nil {
		return "", errors.Tag(errors.ErrCodec, err, fmt.Sprintf("decompress: open %s", path))
	}
	defer in.Close()

	reader, closeReader, err := newReader(in, c)
	if err != nil {
		return "", errors.Tag(errors.ErrCodec, err, fmt.Sprintf("decompress: init %s reader for %s", c, path))
	}
	defer closeReader()

	dst, err := os.Create(out)
	if err != nil {
		return "", errors.Tag(errors.ErrCodec, err, fmt.Sprintf("decompress: create %s", out))
	}

	if _, err := io.Copy(dst, reader); err != nil {
		dst.Close()
		os.Remove(out)
		return "", errors.Tag(errors.ErrCodec, err, fmt.Sprintf("decompress: expand %s", path))
	}
	if err := dst.Close(); err != nil {
		return "", errors.Tag(errors.ErrCodec, err, fmt.Sprintf("decompress: close %s", out))
	}

	slog.Info("decompress_complete", "path", out, "codec", c)
	return out, nil
}

// Compress packs path with the given codec and returns the path of the
// compressed file (path with the codec's suffix appended). The plain input
// is left in place.
func Compress(path string, c Codec) (string, error) {
	if c == None {
		return path, nil
	}
	out := path + c.Ext()
	slog.Info("compress_started", "path", path, "codec", c)

	in, err := os.Open(path)
	if err != nil {
		return "", errors.Tag(errors.ErrCodec, err, fmt.Sprintf("compress: open %s", path))
	}
	defer in.Close()

	dst, err := os.Create(out)
	if err != nil {
		return "", errors.Tag(errors.ErrCodec, err, fmt.Sprintf("compress: create %s", out))
	}

	writer, closeWriter, err := newWriter(dst, c)
	if err != nil {
		dst.Close()
		os.Remove(out)
		return "", errors.Tag(errors.ErrCodec, err, fmt.Sprintf("compress: init %s writer for %s", c, out))
	}

	if _, err := io.Copy(writer, in); err != nil {
		closeWriter()
		dst.Close()
		os.Remove(out)
		return "", errors.Tag(errors.ErrCodec, err, fmt.Sprintf("compress: pack %s", path))
	}
	if err := closeWriter(); err != nil {
		dst.Close()
		os.Remove(out)
		return "", errors.Tag(errors.ErrCodec, err, fmt.Sprintf("compress: flush %s", out))
	}
	if err := dst.Close(); err != nil {
		return "", errors.Tag(errors.ErrCodec, err, fmt.Sprintf("compress: close %s", out))
	}

	slog.Info("compress_complete", "path", out, "codec", c)
	return out, nil
}

func newReader(in io.Reader, c Codec) (io.Reader, func(), error) {
	switch c {
	case Gzip:
		r, err := gzip.NewReader(in)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	case Xz:
		r, err := xz.NewReader(in)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {}, nil
	case Zstd:
		r, err := zstd.NewReader(in)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("no reader for codec %q", c)
	}
}

func newWriter(out io.Writer, c Codec) (io.Writer, func() error, error) {
	switch c {
	case Gzip:
		w := gzip.NewWriter(out)
		return w, w.Close, nil
	case Xz:
		w, err := xz.NewWriter(out)
		if err != nil {
			return nil, nil, err
		}
		return w, w.Close, nil
	case Zstd:
		w, err := zstd.NewWriter(out)
		if err != nil {
			return nil, nil, err
		}
		return w, w.Close, nil
	default:
		return nil, nil, fmt.Errorf("no writer for codec %q", c)
	}
}

// Package imagefs reads and writes files inside the partitions of a device
// image without loop devices or root privileges, using go-diskfs. Partitions
// are addressed by filesystem label or by number.
package imagefs

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/edgeimage/imagectl/pkg/security"
)

// CopyTarget describes one host file to place into an image partition.
type CopyTarget struct {
	// Source is the host path of the file to inject.
	Source string
	// Partition selects the partition by filesystem label or number
	// ("0" is an unpartitioned image's sole filesystem).
	Partition string
	// Dest is the partition-absolute destination path.
	Dest string
}

// ExtractTarget describes one file to pull out of an image partition.
type ExtractTarget struct {
	Partition string
	// Source is the partition-absolute path of the file to read.
	Source string
	// Dest is the host path to write.
	Dest string
}

// ParseCopyTarget parses the "src:partition:/dest" CLI form.
func ParseCopyTarget(spec string) (CopyTarget, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return CopyTarget{}, errors.Tagf(errors.ErrPrecondition,
			"invalid copy spec %q, want <src>:<partition>:</dest/path>", spec)
	}
	return CopyTarget{Source: parts[0], Partition: parts[1], Dest: parts[2]}, nil
}

// ParseExtractTarget parses the "partition:/src:dest" CLI form.
func ParseExtractTarget(spec string) (ExtractTarget, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ExtractTarget{}, errors.Tagf(errors.ErrPrecondition,
			"invalid extract spec %q, want <partition>:</src/path>:<dest>", spec)
	}
	return ExtractTarget{Partition: parts[0], Source: parts[1], Dest: parts[2]}, nil
}

// CopyToImage injects each target's source file into the image. The image
// must be a plain (decompressed) disk image. Destination paths and payload
// sizes are validated before anything is written.
func CopyToImage(imagePath string, targets []CopyTarget, v *security.Validator) error {
	for _, tgt := range targets {
		if err := security.ValidateImagePath(tgt.Dest); err != nil {
			return err
		}
	}

	d, err := diskfs.Open(imagePath, diskfs.WithOpenMode(diskfs.ReadWriteExclusive))
	if err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("open image %s", imagePath))
	}

	fsCache := make(map[string]filesystem.FileSystem)
	for _, tgt := range targets {
		fs, ok := fsCache[tgt.Partition]
		if !ok {
			fs, err = openFilesystem(d, tgt.Partition)
			if err != nil {
				return err
			}
			fsCache[tgt.Partition] = fs
		}
		if err := writeFile(fs, tgt, v); err != nil {
			return err
		}
		slog.Info("image_file_injected",
			"image", imagePath, "partition", tgt.Partition, "dest", tgt.Dest)
	}
	return nil
}

// CopyFromImage extracts each target's source file from the image onto the
// host. The image is opened read-only.
func CopyFromImage(imagePath string, targets []ExtractTarget) error {
	d, err := diskfs.Open(imagePath, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("open image %s", imagePath))
	}

	fsCache := make(map[string]filesystem.FileSystem)
	for _, tgt := range targets {
		fs, ok := fsCache[tgt.Partition]
		if !ok {
			fs, err = openFilesystem(d, tgt.Partition)
			if err != nil {
				return err
			}
			fsCache[tgt.Partition] = fs
		}
		if err := readFile(fs, tgt); err != nil {
			return err
		}
		slog.Info("image_file_extracted",
			"image", imagePath, "partition", tgt.Partition, "src", tgt.Source, "dest", tgt.Dest)
	}
	return nil
}

// openFilesystem resolves a partition selector against the image: a number
// addresses the partition directly, anything else matches filesystem labels.
func openFilesystem(d *disk.Disk, selector string) (filesystem.FileSystem, error) {
	if n, err := strconv.Atoi(selector); err == nil {
		fs, err := d.GetFilesystem(n)
		if err != nil {
			return nil, errors.Tag(errors.ErrNotFound, err, fmt.Sprintf("partition %d", n))
		}
		return fs, nil
	}

	table, err := d.GetPartitionTable()
	if err != nil {
		// unpartitioned media carries a single filesystem at index 0
		fs, ferr := d.GetFilesystem(0)
		if ferr != nil {
			return nil, errors.Tag(errors.ErrNotFound, ferr, fmt.Sprintf("filesystem labeled %q", selector))
		}
		if matchLabel(fs.Label(), selector) {
			return fs, nil
		}
		return nil, errors.Tagf(errors.ErrNotFound, "no filesystem labeled %q in image", selector)
	}

	for i := range table.GetPartitions() {
		fs, err := d.GetFilesystem(i + 1)
		if err != nil {
			// unformatted or unsupported partition, keep looking
			continue
		}
		if matchLabel(fs.Label(), selector) {
			return fs, nil
		}
	}
	return nil, errors.Tagf(errors.ErrNotFound, "no partition labeled %q in image", selector)
}

// matchLabel compares a filesystem label against a selector, ignoring case
// and the space/NUL padding FAT volume labels carry.
func matchLabel(label, selector string) bool {
	return strings.EqualFold(strings.TrimRight(label, " \x00"), selector)
}

func writeFile(fs filesystem.FileSystem, tgt CopyTarget, v *security.Validator) error {
	src, err := os.Open(tgt.Source)
	if err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("open source %s", tgt.Source))
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("stat source %s", tgt.Source))
	}
	if v != nil {
		if err := v.ValidatePayloadSize(info.Size()); err != nil {
			return err
		}
		if err := v.AddInjectedSize(info.Size()); err != nil {
			return err
		}
	}

	dest := path.Clean(tgt.Dest)
	if err := ensureDir(fs, path.Dir(dest)); err != nil {
		return err
	}

	out, err := fs.OpenFile(dest, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("create %s in partition %s", dest, tgt.Partition))
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("write %s in partition %s", dest, tgt.Partition))
	}
	return nil
}

func readFile(fs filesystem.FileSystem, tgt ExtractTarget) error {
	in, err := fs.OpenFile(path.Clean(tgt.Source), os.O_RDONLY)
	if err != nil {
		return errors.Tag(errors.ErrNotFound, err, fmt.Sprintf("open %s in partition %s", tgt.Source, tgt.Partition))
	}
	defer in.Close()

	out, err := os.Create(tgt.Dest)
	if err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("create %s", tgt.Dest))
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tgt.Dest)
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("extract %s", tgt.Source))
	}
	if err := out.Close(); err != nil {
		return errors.Tag(errors.ErrIO, err, fmt.Sprintf("close %s", tgt.Dest))
	}
	return nil
}

// ensureDir creates dirPath and its parents inside the partition. Mkdir on
// an existing directory is not an error.
func ensureDir(fs filesystem.FileSystem, dirPath string) error {
	if dirPath == "/" || dirPath == "." {
		return nil
	}
	parts := strings.Split(dirPath, "/")
	currentPath := "/"
	for _, part := range parts {
		if part == "" {
			continue
		}
		currentPath = path.Join(currentPath, part)
		if err := fs.Mkdir(currentPath); err != nil && !os.IsExist(err) {
			return errors.Tag(errors.ErrIO, err, fmt.Sprintf("create directory %s", currentPath))
		}
	}
	return nil
}

// Package pipeline runs a single mutation against a device image as a
// transaction. The source image is staged into a disposable workspace,
// decompressed if needed, mutated there, and only then are the requested
// artifacts (image, bmap) copied to their destinations. A failure at any
// step leaves the source and any pre-existing destination untouched; the
// workspace is removed on every exit path.
package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/edgeimage/imagectl/pkg/bmap"
	"github.com/edgeimage/imagectl/pkg/compression"
	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/edgeimage/imagectl/pkg/sparse"
)

// Mutation performs in-place edits on the staged, decompressed image. It
// must not relocate or delete the file. A non-nil error aborts the run
// before any output is written.
type Mutation func(stagedImage string) error

// Options controls a pipeline run.
type Options struct {
	// GenerateBmap emits a <image>.bmap side-car next to the output image.
	GenerateBmap bool
	// TargetCompression packs the output with the given codec; None keeps
	// the output plain.
	TargetCompression compression.Codec
	// Containerized marks a containerized execution context, where bmap
	// generation is unsupported. Resolved by the caller from the
	// environment so the pipeline itself stays testable.
	Containerized bool
	// WorkRoot overrides the parent of the staging directory. Empty means
	// the system temp root.
	WorkRoot string
}

// Run stages imageFile, applies mutate to the staged copy, and copies the
// requested artifacts back next to imageFile. It returns the final output
// image path. The output carries the extension of the requested target
// compression; a compressed source with no target compression produces a
// plain output with the compression suffix stripped.
func Run(imageFile string, opts Options, mutate Mutation) (string, error) {
	// preconditions come before any filesystem mutation, including
	// workspace creation
	if opts.Containerized && opts.GenerateBmap {
		return "", errors.Tagf(errors.ErrPrecondition,
			"generating a bmap file is not supported in containerized environments")
	}
	if _, err := os.Stat(imageFile); err != nil {
		if os.IsNotExist(err) {
			return "", errors.Tagf(errors.ErrNotFound, "image doesn't exist %s", imageFile)
		}
		return "", errors.Tag(errors.ErrIO, err, fmt.Sprintf("stat %s", imageFile))
	}

	ws, err := acquireWorkspace(opts.WorkRoot)
	if err != nil {
		return "", err
	}
	defer ws.Release()

	destImage := imageFile
	staged := filepath.Join(ws.dir, filepath.Base(imageFile))

	if codec := compression.FromPath(imageFile); codec != compression.None {
		if err := sparse.CopyFile(imageFile, staged); err != nil {
			return "", errors.Wrap(err, "staging compressed image")
		}
		staged, err = compression.Decompress(staged, codec)
		if err != nil {
			return "", err
		}
		// output is plain unless a target compression is requested below
		destImage = filepath.Join(filepath.Dir(imageFile), filepath.Base(staged))
	} else {
		if err := sparse.CopyFile(imageFile, staged); err != nil {
			return "", errors.Wrap(err, "staging image")
		}
	}
	slog.Info("pipeline_staged", "image", imageFile, "staged", staged)

	// the single commit point: everything before this touched only the
	// workspace, everything after writes outputs
	if err := mutate(staged); err != nil {
		return "", errors.Tag(errors.ErrMutation, err, fmt.Sprintf("mutating %s", staged))
	}
	slog.Info("pipeline_mutation_applied", "staged", staged)

	if opts.GenerateBmap {
		bmapPath, err := bmap.Generate(staged)
		if err != nil {
			return "", err
		}
		targetBmap := filepath.Join(filepath.Dir(destImage), filepath.Base(bmapPath))
		if err := sparse.CopyFile(bmapPath, targetBmap); err != nil {
			return "", errors.Wrap(err, "copying bmap to destination")
		}
		slog.Info("pipeline_bmap_written", "bmap", targetBmap)
	}

	if opts.TargetCompression != compression.None {
		packed, err := compression.Compress(staged, opts.TargetCompression)
		if err != nil {
			return "", err
		}
		destImage = filepath.Join(filepath.Dir(destImage), filepath.Base(packed))
		if err := sparse.CopyFile(packed, destImage); err != nil {
			return "", errors.Wrap(err, "copying compressed image to destination")
		}
	} else {
		if err := sparse.CopyFile(staged, destImage); err != nil {
			return "", errors.Wrap(err, "copying image to destination")
		}
	}

	slog.Info("pipeline_complete", "dest", destImage)
	return destImage, nil
}

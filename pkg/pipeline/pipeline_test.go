package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/edgeimage/imagectl/pkg/compression"
	"github.com/edgeimage/imagectl/pkg/errors"
)

// noop is a mutation that succeeds without touching the image.
func noop(string) error { return nil }

// assertNoWorkspaces fails if any staging directory survived under root.
func assertNoWorkspaces(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read work root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("%d workspace(s) leaked under %s", len(entries), root)
	}
}

func writeImage(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func TestRun_PlainImageMutation(t *testing.T) {
	imageDir := t.TempDir()
	workRoot := t.TempDir()
	original := bytes.Repeat([]byte{0xC0}, 64*1024)
	image := writeImage(t, imageDir, "device.wic", original)

	marker := []byte("provisioned")
	dest, err := Run(image, Options{WorkRoot: workRoot}, func(staged string) error {
		if staged == image {
			return fmt.Errorf("mutation ran on the source, not the staged copy")
		}
		f, err := os.OpenFile(staged, os.O_APPEND|os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.Write(marker)
		return err
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if dest != image {
		t.Errorf("dest = %s, want %s (plain in, plain out)", dest, image)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, append(append([]byte{}, original...), marker...)) {
		t.Error("output is not original content plus marker")
	}
	assertNoWorkspaces(t, workRoot)
}

func TestRun_MutationFailureWritesNothing(t *testing.T) {
	imageDir := t.TempDir()
	workRoot := t.TempDir()
	original := bytes.Repeat([]byte{0x42}, 32*1024)
	image := writeImage(t, imageDir, "device.wic.gz", nil)

	// build a real gzip source so staging succeeds
	plain := writeImage(t, t.TempDir(), "device.wic", original)
	packed, err := compression.Compress(plain, compression.Gzip)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(packed)
	if err := os.WriteFile(image, data, 0644); err != nil {
		t.Fatal(err)
	}

	boom := fmt.Errorf("injection failed")
	_, err = Run(image, Options{GenerateBmap: true, WorkRoot: workRoot}, func(string) error {
		return boom
	})
	if !errors.Is(err, errors.ErrMutation) {
		t.Fatalf("expected ErrMutation, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("original mutation error lost from chain")
	}

	// no plain output, no bmap, source untouched
	if _, err := os.Stat(filepath.Join(imageDir, "device.wic")); !os.IsNotExist(err) {
		t.Error("output image written despite mutation failure")
	}
	if _, err := os.Stat(filepath.Join(imageDir, "device.wic.bmap")); !os.IsNotExist(err) {
		t.Error("bmap written despite mutation failure")
	}
	got, _ := os.ReadFile(image)
	if !bytes.Equal(got, data) {
		t.Error("source image modified")
	}
	assertNoWorkspaces(t, workRoot)
}

func TestRun_SourceMissing(t *testing.T) {
	workRoot := t.TempDir()
	missing := filepath.Join(t.TempDir(), "absent.wic")

	_, err := Run(missing, Options{WorkRoot: workRoot}, noop)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !bytes.Contains([]byte(err.Error()), []byte(missing)) {
		t.Errorf("error should name the path: %v", err)
	}
	assertNoWorkspaces(t, workRoot)
}

func TestRun_ContainerizedRejectsBmap(t *testing.T) {
	imageDir := t.TempDir()
	workRoot := t.TempDir()
	image := writeImage(t, imageDir, "device.wic", []byte("image"))

	mutated := false
	_, err := Run(image, Options{GenerateBmap: true, Containerized: true, WorkRoot: workRoot},
		func(string) error {
			mutated = true
			return nil
		})
	if !errors.Is(err, errors.ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
	if mutated {
		t.Error("mutation ran despite failed precondition")
	}
	// precondition failures must not even create a workspace
	assertNoWorkspaces(t, workRoot)
}

func TestRun_ContainerizedWithoutBmapIsFine(t *testing.T) {
	imageDir := t.TempDir()
	image := writeImage(t, imageDir, "device.wic", []byte("image"))

	if _, err := Run(image, Options{Containerized: true, WorkRoot: t.TempDir()}, noop); err != nil {
		t.Fatalf("containerized run without bmap should succeed: %v", err)
	}
}

func TestRun_CompressionTransition(t *testing.T) {
	// source = image.wic.gz, target = xz: output must be image.wic.xz with
	// the same plain content
	imageDir := t.TempDir()
	workRoot := t.TempDir()
	original := bytes.Repeat([]byte{0x5A, 0x00, 0xFF}, 20*1024)

	plain := writeImage(t, imageDir, "image.wic", original)
	packed, err := compression.Compress(plain, compression.Gzip)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(plain); err != nil {
		t.Fatal(err)
	}

	dest, err := Run(packed, Options{TargetCompression: compression.Xz, WorkRoot: workRoot}, noop)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if want := filepath.Join(imageDir, "image.wic.xz"); dest != want {
		t.Errorf("dest = %s, want %s", dest, want)
	}

	unpacked, err := compression.Decompress(dest, compression.Xz)
	if err != nil {
		t.Fatalf("decompress output: %v", err)
	}
	got, _ := os.ReadFile(unpacked)
	if !bytes.Equal(got, original) {
		t.Error("xz output does not reproduce the original plain content")
	}
	assertNoWorkspaces(t, workRoot)
}

func TestRun_CompressedSourcePlainOutput(t *testing.T) {
	imageDir := t.TempDir()
	original := []byte("plain image payload")

	plain := writeImage(t, imageDir, "image.wic", original)
	packed, err := compression.Compress(plain, compression.Zstd)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(plain); err != nil {
		t.Fatal(err)
	}

	dest, err := Run(packed, Options{WorkRoot: t.TempDir()}, noop)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if dest != plain {
		t.Errorf("dest = %s, want suffix-stripped %s", dest, plain)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, original) {
		t.Error("plain output content mismatch")
	}
}

func TestRun_BmapLandsNextToOutput(t *testing.T) {
	imageDir := t.TempDir()
	content := bytes.Repeat([]byte{0x99}, 16*1024)
	image := writeImage(t, imageDir, "device.wic", content)

	if _, err := Run(image, Options{GenerateBmap: true, WorkRoot: t.TempDir()}, noop); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(imageDir, "device.wic.bmap")); err != nil {
		t.Errorf("expected bmap next to output image: %v", err)
	}
}

func TestRun_MutationPanicStillReleasesWorkspace(t *testing.T) {
	imageDir := t.TempDir()
	workRoot := t.TempDir()
	image := writeImage(t, imageDir, "device.wic", []byte("image"))

	func() {
		defer func() { recover() }()
		Run(image, Options{WorkRoot: workRoot}, func(string) error {
			panic("mutation blew up")
		})
	}()

	assertNoWorkspaces(t, workRoot)
}

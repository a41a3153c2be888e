package sparse

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// writeSparse creates a file of the given logical size with data written
// only at the given offsets.
func writeSparse(t *testing.T, path string, size int64, chunks map[int64][]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	for off, data := range chunks {
		if _, err := f.WriteAt(data, off); err != nil {
			t.Fatalf("write at %d: %v", off, err)
		}
	}
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func TestCopyFile_ContentIdentical(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.wic")
	dst := filepath.Join(dir, "dst.wic")

	const size = 8 * 1024 * 1024
	chunks := map[int64][]byte{
		0:               []byte("partition table"),
		3 * 1024 * 1024: bytes.Repeat([]byte{0xAB}, 256*1024),
		size - 512:      []byte("end marker"),
	}
	writeSparse(t, src, size, chunks)

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("copy failed: %v", err)
	}

	want, _ := os.ReadFile(src)
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("destination content differs from source")
	}
}

func TestCopyFile_TrailingHolePreservesSize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.wic")
	dst := filepath.Join(dir, "dst.wic")

	const size = 4 * 1024 * 1024
	writeSparse(t, src, size, map[int64][]byte{0: []byte("header only")})

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("copy failed: %v", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("stat dst: %v", err)
	}
	if info.Size() != size {
		t.Errorf("logical size = %d, want %d", info.Size(), size)
	}
}

func TestCopyFile_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.wic")
	dst := filepath.Join(dir, "out.wic")
	if err := os.WriteFile(src, nil, 0644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("stat dst: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected empty destination, got %d bytes", info.Size())
	}
}

func TestCopyFile_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CopyFile(filepath.Join(dir, "nope.wic"), filepath.Join(dir, "out.wic"))
	if err == nil {
		t.Fatal("expected error for missing source")
	}
}

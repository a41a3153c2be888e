package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestChecksumFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.wic")
	content := []byte("device image payload")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	result, err := ChecksumFile(path)
	if err != nil {
		t.Fatalf("checksum failed: %v", err)
	}

	if result.LocalPath != path {
		t.Errorf("local path = %s, want %s", result.LocalPath, path)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", result.Size, len(content))
	}
	sum := sha256.Sum256(content)
	if result.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("sha256 mismatch: got %s", result.SHA256)
	}
}

func TestChecksumFile_Missing(t *testing.T) {
	if _, err := ChecksumFile(filepath.Join(t.TempDir(), "missing.wic")); err == nil {
		t.Error("expected error for missing file")
	}
}

// Package security validates the inputs a provisioning run injects into an
// image: destination paths inside image partitions and the size and
// expansion ratio of container payloads.
package security

import (
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/edgeimage/imagectl/pkg/errors"
)

// Validator enforces payload limits across a provisioning run.
type Validator struct {
	maxPayloadSize      int64
	maxTotalSize        int64
	maxCompressionRatio float64

	mu               sync.Mutex
	currentTotalSize int64
}

// NewValidator creates a validator with the given caps.
func NewValidator(maxPayloadSize, maxTotalSize int64, maxCompressionRatio float64) *Validator {
	slog.Info("security_validator_init",
		"max_payload_size_mb", maxPayloadSize/1024/1024,
		"max_total_size_mb", maxTotalSize/1024/1024,
		"max_compression_ratio", maxCompressionRatio)

	return &Validator{
		maxPayloadSize:      maxPayloadSize,
		maxTotalSize:        maxTotalSize,
		maxCompressionRatio: maxCompressionRatio,
	}
}

// ValidateImagePath checks a destination path inside an image partition.
// Paths are partition-absolute ("/etc/aziot/config.toml"). Any ".." element
// is rejected outright: path.Clean would silently swallow traversal at the
// partition root, so the raw path is inspected instead.
func ValidateImagePath(dest string) error {
	if dest == "" {
		return errors.Tagf(errors.ErrPrecondition, "empty destination path")
	}
	if !strings.HasPrefix(dest, "/") {
		return errors.Tagf(errors.ErrPrecondition, "destination path must be absolute within the partition: %s", dest)
	}
	for _, elem := range strings.Split(dest, "/") {
		if elem == ".." {
			slog.Error("security_path_validation_failed", "path", dest, "reason", "path_traversal")
			return errors.Tagf(errors.ErrPrecondition, "path traversal detected: %s", dest)
		}
	}
	if path.Clean(dest) == "/" {
		return errors.Tagf(errors.ErrPrecondition, "destination path names no file: %s", dest)
	}
	return nil
}

// ValidatePayloadSize checks a single payload against the per-file cap.
func (v *Validator) ValidatePayloadSize(size int64) error {
	if size > v.maxPayloadSize {
		slog.Error("security_payload_size_exceeded",
			"payload_size_mb", size/1024/1024,
			"max_payload_size_mb", v.maxPayloadSize/1024/1024)
		return errors.Tagf(errors.ErrPrecondition, "payload size %d exceeds max %d", size, v.maxPayloadSize)
	}
	return nil
}

// AddInjectedSize tracks total injected bytes for the run and checks the
// running total against the cap.
func (v *Validator) AddInjectedSize(size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.currentTotalSize += size
	if v.currentTotalSize > v.maxTotalSize {
		slog.Error("security_total_size_exceeded",
			"total_size_mb", v.currentTotalSize/1024/1024,
			"max_total_size_mb", v.maxTotalSize/1024/1024)
		return errors.Tagf(errors.ErrPrecondition, "total injected size %d exceeds max %d", v.currentTotalSize, v.maxTotalSize)
	}
	return nil
}

// ValidateCompressionRatio guards against decompression bombs in container
// payloads: expandedSize over compressedSize must stay under the cap.
func (v *Validator) ValidateCompressionRatio(compressedSize, expandedSize int64) error {
	if compressedSize <= 0 {
		return nil
	}
	ratio := float64(expandedSize) / float64(compressedSize)
	if ratio > v.maxCompressionRatio {
		slog.Error("security_compression_ratio_exceeded",
			"ratio", ratio,
			"max_ratio", v.maxCompressionRatio)
		return errors.Tagf(errors.ErrPrecondition, "compression ratio %.1f exceeds max %.1f", ratio, v.maxCompressionRatio)
	}
	return nil
}

// GetCurrentTotalSize returns the bytes injected so far in this run.
func (v *Validator) GetCurrentTotalSize() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentTotalSize
}

// Reset clears the running total for a new run.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.currentTotalSize = 0
}

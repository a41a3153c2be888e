// Package errors provides error wrapping utilities for context-aware error messages.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify failures with errors.Is against these
// sentinels; the original cause stays reachable through the wrap chain.
var (
	// ErrNotFound indicates a referenced file or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPrecondition indicates an invalid option combination or input,
	// detected before any filesystem mutation.
	ErrPrecondition = errors.New("precondition failed")
	// ErrIO indicates a filesystem failure (create, copy, read, write, remove).
	ErrIO = errors.New("io failure")
	// ErrCodec indicates a compression or decompression failure.
	ErrCodec = errors.New("codec failure")
	// ErrMutation indicates the caller-supplied image mutation failed.
	ErrMutation = errors.New("mutation failed")
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Tag wraps err with a kind sentinel and context. Both the kind and the
// original cause match through errors.Is. If err is nil, it returns nil.
func Tag(kind, err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", context, kind, err)
}

// Tagf creates a classified error with no underlying cause.
func Tagf(kind error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

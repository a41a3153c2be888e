package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("expected nil when wrapping nil error")
	}

	cause := errors.New("disk full")
	err := Wrap(cause, "staging image")
	if !errors.Is(err, cause) {
		t.Error("wrapped error lost its cause")
	}
	if got := err.Error(); got != "staging image: disk full" {
		t.Errorf("unexpected message: %s", got)
	}
}

func TestTag_ClassifiesAndPreservesCause(t *testing.T) {
	cause := fmt.Errorf("short write")
	err := Tag(ErrIO, cause, "copying /tmp/x.wic")

	if !errors.Is(err, ErrIO) {
		t.Error("expected errors.Is(err, ErrIO)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to remain in chain")
	}
	if errors.Is(err, ErrCodec) {
		t.Error("did not expect ErrCodec in chain")
	}
	if Tag(ErrIO, nil, "context") != nil {
		t.Error("expected nil when tagging nil error")
	}
}

func TestTagf(t *testing.T) {
	err := Tagf(ErrNotFound, "image doesn't exist %s", "/images/device.wic")
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected ErrNotFound in chain")
	}
	if !strings.Contains(err.Error(), "/images/device.wic") {
		t.Errorf("message should name the path: %s", err.Error())
	}
}

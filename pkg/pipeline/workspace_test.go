package pipeline

import (
	"os"
	"testing"
)

func TestWorkspace_AcquireRelease(t *testing.T) {
	root := t.TempDir()

	ws, err := acquireWorkspace(root)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if info, err := os.Stat(ws.dir); err != nil || !info.IsDir() {
		t.Fatalf("workspace directory missing: %v", err)
	}

	ws.Release()
	if _, err := os.Stat(ws.dir); !os.IsNotExist(err) {
		t.Error("workspace directory survived Release")
	}
}

func TestWorkspace_NamesNeverCollide(t *testing.T) {
	root := t.TempDir()
	seen := make(map[string]bool)

	for i := 0; i < 32; i++ {
		ws, err := acquireWorkspace(root)
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		if seen[ws.dir] {
			t.Fatalf("workspace name reused: %s", ws.dir)
		}
		seen[ws.dir] = true
		defer ws.Release()
	}
}

func TestWorkspace_ReleaseTwiceIsHarmless(t *testing.T) {
	ws, err := acquireWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	ws.Release()
	ws.Release()
}

func TestWorkspace_DefaultRoot(t *testing.T) {
	ws, err := acquireWorkspace("")
	if err != nil {
		t.Fatalf("acquire with default root failed: %v", err)
	}
	defer ws.Release()

	if _, err := os.Stat(ws.dir); err != nil {
		t.Fatalf("workspace not created under temp root: %v", err)
	}
}

package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/google/uuid"
)

// workspace is the staging directory owned by a single pipeline run. Its
// name is a fresh UUID so concurrent runs on the same host never collide.
type workspace struct {
	dir string
}

// acquireWorkspace creates the staging directory under root, or under the
// system temp root when root is empty.
func acquireWorkspace(root string) (*workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Tag(errors.ErrIO, err, fmt.Sprintf("couldn't create staging directory %s", dir))
	}
	slog.Info("workspace_created", "dir", dir)
	return &workspace{dir: dir}, nil
}

// Release removes the staging directory and everything in it. Removal
// failure is logged and swallowed: cleanup must never replace the run's
// primary result. Meant to be deferred, so it also runs during panics.
func (w *workspace) Release() {
	if err := os.RemoveAll(w.dir); err != nil {
		slog.Warn("workspace_removal_failed", "dir", w.dir, "error", err)
		return
	}
	slog.Info("workspace_removed", "dir", w.dir)
}

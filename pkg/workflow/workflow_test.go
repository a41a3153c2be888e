package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/edgeimage/imagectl/pkg/db"
	"github.com/edgeimage/imagectl/pkg/pipeline"
	"github.com/edgeimage/imagectl/pkg/update"
	"github.com/superfly/fsm"
)

func newTestMachine(t *testing.T) (*Machine, *db.Repository) {
	t.Helper()
	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	opts := pipeline.Options{WorkRoot: t.TempDir()}
	return NewMachine(repo, nil, opts, nil, 3), repo
}

func TestHandleProvision_MissingImageAborts(t *testing.T) {
	m, repo := newTestMachine(t)

	imagePath := filepath.Join(t.TempDir(), "missing.wic")
	run := &db.Run{Image: imagePath, Operation: "publish", Status: db.StatusPending}
	if err := repo.Create(run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	req := fsm.NewRequest(
		&PublishRequest{ImagePath: imagePath},
		&PublishResponse{RunID: run.ID},
	)
	if _, err := m.handleProvision(context.Background(), req); err == nil {
		t.Fatal("expected error for missing source image")
	}

	failed, err := repo.GetByID(run.ID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if failed.Status != db.StatusFailed {
		t.Errorf("run status = %s, want %s", failed.Status, db.StatusFailed)
	}
	if failed.ErrorMessage == "" {
		t.Error("expected failure reason recorded in the ledger")
	}
}

func TestHandleProvision_GeneratesManifest(t *testing.T) {
	m, repo := newTestMachine(t)

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "device.wic")
	if err := os.WriteFile(imagePath, []byte("image contents"), 0644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	run := &db.Run{Image: imagePath, Operation: "publish", Status: db.StatusPending}
	if err := repo.Create(run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	resp := &PublishResponse{RunID: run.ID}
	req := fsm.NewRequest(
		&PublishRequest{
			ImagePath: imagePath,
			Manifest: &update.Params{
				Provider: "edgeimage",
				Name:     "gateway-os",
				Version:  "1.2.3",
			},
		},
		resp,
	)
	if _, err := m.handleProvision(context.Background(), req); err != nil {
		t.Fatalf("provision failed: %v", err)
	}

	if resp.OutputPath != imagePath {
		t.Errorf("output path = %s, want %s", resp.OutputPath, imagePath)
	}
	if resp.ManifestPath != imagePath+".importManifest.json" {
		t.Errorf("manifest path = %s, want %s", resp.ManifestPath, imagePath+".importManifest.json")
	}
	if _, err := os.Stat(resp.ManifestPath); err != nil {
		t.Errorf("manifest not written: %v", err)
	}

	running, _ := repo.GetByID(run.ID)
	if running.Status != db.StatusRunning {
		t.Errorf("run status = %s, want %s before upload", running.Status, db.StatusRunning)
	}
}

func TestHandleProvision_SkipsWhenAlreadyPublished(t *testing.T) {
	m, _ := newTestMachine(t)

	resp := &PublishResponse{
		RunID:            7,
		AlreadyPublished: true,
		OutputPath:       "/images/device.wic",
		SHA256:           "cafe",
	}
	req := fsm.NewRequest(
		&PublishRequest{ImagePath: filepath.Join(t.TempDir(), "never-read.wic")},
		resp,
	)

	// the image path does not exist; a run that touches the pipeline
	// would fail, so success proves the short-circuit
	if _, err := m.handleProvision(context.Background(), req); err != nil {
		t.Fatalf("expected already-published run to skip provisioning, got %v", err)
	}
	if resp.OutputPath != "/images/device.wic" || resp.SHA256 != "cafe" {
		t.Error("prior run artifacts should be preserved in the response")
	}
}

// TestResponseAccumulation tests PublishResponse field accumulation
func TestResponseAccumulation(t *testing.T) {
	resp := &PublishResponse{
		RunID:        1,
		OutputPath:   "/images/device.wic.xz",
		BmapPath:     "/images/device.wic.bmap",
		ManifestPath: "/images/device.wic.xz.importManifest.json",
	}

	// simulate the upload state filling in transfer results
	resp.SHA256 = "abc123"
	resp.ImageKey = "releases/device.wic.xz"
	resp.BmapKey = "releases/device.wic.bmap"
	resp.ManifestKey = "releases/device.wic.xz.importManifest.json"

	if resp.RunID == 0 {
		t.Error("RunID should be preserved from check_ledger state")
	}
	if resp.OutputPath == "" || resp.BmapPath == "" || resp.ManifestPath == "" {
		t.Error("artifact paths should be preserved from provision state")
	}
	if resp.ImageKey == "" || resp.BmapKey == "" || resp.ManifestKey == "" || resp.SHA256 == "" {
		t.Error("upload results should be set after upload state")
	}
}

package db

import (
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)

	run := &Run{
		Image:     "/images/device.wic.gz",
		Operation: "publish",
		Status:    StatusPending,
	}
	if err := repo.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("expected non-zero run id after create")
	}

	retrieved, err := repo.GetByID(run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if retrieved.Image != run.Image || retrieved.Operation != run.Operation {
		t.Errorf("retrieved run mismatch: got %+v, want %+v", retrieved, run)
	}
}

func TestRepository_GetLatestByImage(t *testing.T) {
	repo := newTestRepo(t)

	repo.Create(&Run{Image: "/images/a.wic", Operation: "publish", Status: StatusFailed})
	repo.Create(&Run{Image: "/images/a.wic", Operation: "publish", Status: StatusPublished})
	repo.Create(&Run{Image: "/images/b.wic", Operation: "publish", Status: StatusPending})

	latest, err := repo.GetLatestByImage("/images/a.wic")
	if err != nil {
		t.Fatalf("failed to get latest run: %v", err)
	}
	if latest == nil || latest.Status != StatusPublished {
		t.Errorf("expected latest run with status published, got %+v", latest)
	}

	missing, err := repo.GetLatestByImage("/images/none.wic")
	if err != nil {
		t.Fatalf("unexpected error for missing image: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing image, got %+v", missing)
	}
}

func TestRepository_Update(t *testing.T) {
	repo := newTestRepo(t)

	run := &Run{Image: "/images/device.wic.xz", Operation: "publish", Status: StatusPending}
	repo.Create(run)

	run.Status = StatusPublished
	run.SHA256 = "abc123"
	run.OutputPath = "/images/device.wic.xz"
	run.BmapPath = "/images/device.wic.bmap"
	run.Compression = "xz"
	if err := repo.Update(run); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	updated, _ := repo.GetByID(run.ID)
	if updated.Status != StatusPublished || updated.BmapPath != "/images/device.wic.bmap" {
		t.Errorf("update not persisted: %+v", updated)
	}

	if err := repo.Update(&Run{ID: 9999, Status: StatusFailed}); err == nil {
		t.Error("expected error updating missing run")
	}
}

func TestRepository_UpdateStatus(t *testing.T) {
	repo := newTestRepo(t)

	run := &Run{Image: "/images/device.wic", Operation: "docker-inject", Status: StatusPending}
	repo.Create(run)

	if err := repo.UpdateStatus(run.ID, StatusFailed, "mutation failed"); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	updated, _ := repo.GetByID(run.ID)
	if updated.Status != StatusFailed || updated.ErrorMessage != "mutation failed" {
		t.Errorf("status not updated: %+v", updated)
	}
}

func TestRepository_ListAndDelete(t *testing.T) {
	repo := newTestRepo(t)

	repo.Create(&Run{Image: "/images/a.wic", Operation: "publish", Status: StatusPublished})
	second := &Run{Image: "/images/b.wic", Operation: "publish", Status: StatusFailed}
	repo.Create(second)

	runs, err := repo.List()
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second.ID {
		t.Errorf("expected newest run first, got id %d", runs[0].ID)
	}

	if err := repo.Delete(second.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	runs, _ = repo.List()
	if len(runs) != 1 {
		t.Errorf("expected 1 run after delete, got %d", len(runs))
	}
}

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/edgeimage/imagectl/pkg/bmap"
	"github.com/edgeimage/imagectl/pkg/compression"
	"github.com/edgeimage/imagectl/pkg/db"
	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/edgeimage/imagectl/pkg/pipeline"
	"github.com/edgeimage/imagectl/pkg/storage"
	"github.com/edgeimage/imagectl/pkg/update"
	"github.com/superfly/fsm"
)

// handleCheckLedger checks the run ledger for a prior publish (idempotency)
func (m *Machine) handleCheckLedger(ctx context.Context, req *fsm.Request[PublishRequest, PublishResponse]) (*fsm.Response[PublishResponse], error) {
	slog.Info("fsm_state_check_ledger", "image", req.Msg.ImagePath)

	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "image", req.Msg.ImagePath, "max_retries", m.maxRetries)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	run, err := m.repo.GetLatestByImage(req.Msg.ImagePath)
	if err != nil {
		slog.Error("ledger_check_failed", "image", req.Msg.ImagePath, "error", err)
		return nil, fsm.Abort(errors.Wrap(err, "ledger error"))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &PublishResponse{}
	}

	if run != nil && run.Status == db.StatusPublished {
		resp.RunID = run.ID
		resp.AlreadyPublished = true
		resp.OutputPath = run.OutputPath
		resp.BmapPath = run.BmapPath
		resp.SHA256 = run.SHA256
		resp.Status = run.Status
		slog.Info("run_already_published", "image", req.Msg.ImagePath, "run_id", run.ID)
		return fsm.NewResponse(resp), nil
	}

	run = &db.Run{
		Image:     req.Msg.ImagePath,
		Operation: "publish",
		Status:    db.StatusPending,
	}
	if err := m.repo.Create(run); err != nil {
		slog.Error("create_run_failed", "image", req.Msg.ImagePath, "error", err)
		return nil, errors.Wrap(err, "failed to create run record")
	}
	resp.RunID = run.ID
	slog.Info("run_created", "image", req.Msg.ImagePath, "run_id", run.ID)

	return fsm.NewResponse(resp), nil
}

// handleProvision runs the image pipeline
func (m *Machine) handleProvision(ctx context.Context, req *fsm.Request[PublishRequest, PublishResponse]) (*fsm.Response[PublishResponse], error) {
	slog.Info("fsm_state_provision", "image", req.Msg.ImagePath)

	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "image", req.Msg.ImagePath, "max_retries", m.maxRetries)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if resp.AlreadyPublished {
		slog.Info("provision_skipped", "image", req.Msg.ImagePath, "run_id", resp.RunID)
		return fsm.NewResponse(resp), nil
	}

	if err := m.repo.UpdateStatus(resp.RunID, db.StatusRunning, ""); err != nil {
		slog.Error("status_update_failed", "run_id", resp.RunID, "status", db.StatusRunning, "error", err)
		return nil, errors.Wrap(err, "failed to update status")
	}

	output, err := pipeline.Run(req.Msg.ImagePath, m.opts, m.mutate)
	if err != nil {
		slog.Error("provision_failed", "image", req.Msg.ImagePath, "error", err)
		m.repo.UpdateStatus(resp.RunID, db.StatusFailed, err.Error())
		// bad inputs and rejected mutations never succeed on retry
		if errors.Is(err, errors.ErrPrecondition) ||
			errors.Is(err, errors.ErrNotFound) ||
			errors.Is(err, errors.ErrMutation) {
			return nil, fsm.Abort(err)
		}
		return nil, errors.Wrap(err, "pipeline run failed")
	}

	resp.OutputPath = output
	if m.opts.GenerateBmap {
		resp.BmapPath = bmap.SidecarPath(output)
	}

	if req.Msg.Manifest != nil {
		manifestPath, err := update.CreateImportManifest(output, *req.Msg.Manifest)
		if err != nil {
			slog.Error("manifest_generation_failed", "output", output, "error", err)
			m.repo.UpdateStatus(resp.RunID, db.StatusFailed, err.Error())
			return nil, fsm.Abort(err)
		}
		resp.ManifestPath = manifestPath
	}

	slog.Info("provision_complete", "image", req.Msg.ImagePath, "output", output, "bmap", resp.BmapPath, "manifest", resp.ManifestPath)
	return fsm.NewResponse(resp), nil
}

// handleUpload uploads the output image and bmap to S3
func (m *Machine) handleUpload(ctx context.Context, req *fsm.Request[PublishRequest, PublishResponse]) (*fsm.Response[PublishResponse], error) {
	slog.Info("fsm_state_upload", "image", req.Msg.ImagePath)

	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "image", req.Msg.ImagePath, "max_retries", m.maxRetries)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if resp.AlreadyPublished {
		slog.Info("upload_skipped", "image", req.Msg.ImagePath, "run_id", resp.RunID)
		return fsm.NewResponse(resp), nil
	}

	// the image is the expensive artifact: a key already present from an
	// interrupted run is checksummed locally instead of re-uploaded
	imageKey := path.Join(req.Msg.S3Prefix, filepath.Base(resp.OutputPath))
	exists, err := m.s3Client.Exists(ctx, imageKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check image key")
	}

	var result *storage.TransferResult
	if exists {
		slog.Info("image_upload_skipped", "image_key", imageKey, "reason", "already_uploaded")
		result, err = storage.ChecksumFile(resp.OutputPath)
	} else {
		result, err = m.s3Client.Upload(ctx, resp.OutputPath, imageKey)
	}
	if err != nil {
		slog.Error("upload_failed", "output", resp.OutputPath, "error", err)
		return nil, errors.Wrap(err, "failed to upload image")
	}
	resp.SHA256 = result.SHA256
	resp.ImageKey = imageKey

	if resp.BmapPath != "" {
		bmapKey := path.Join(req.Msg.S3Prefix, filepath.Base(resp.BmapPath))
		if _, err := m.s3Client.Upload(ctx, resp.BmapPath, bmapKey); err != nil {
			slog.Error("bmap_upload_failed", "bmap", resp.BmapPath, "error", err)
			return nil, errors.Wrap(err, "failed to upload bmap")
		}
		resp.BmapKey = bmapKey
	}

	if resp.ManifestPath != "" {
		manifestKey := path.Join(req.Msg.S3Prefix, filepath.Base(resp.ManifestPath))
		if _, err := m.s3Client.Upload(ctx, resp.ManifestPath, manifestKey); err != nil {
			slog.Error("manifest_upload_failed", "manifest", resp.ManifestPath, "error", err)
			return nil, errors.Wrap(err, "failed to upload manifest")
		}
		resp.ManifestKey = manifestKey
	}

	run, err := m.repo.GetByID(resp.RunID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load run")
	}
	if run != nil {
		run.SHA256 = resp.SHA256
		run.OutputPath = resp.OutputPath
		run.BmapPath = resp.BmapPath
		run.Compression = string(compression.FromPath(resp.OutputPath))
		if err := m.repo.Update(run); err != nil {
			slog.Error("run_update_failed", "run_id", run.ID, "error", err)
			return nil, errors.Wrap(err, "failed to update run")
		}
	}

	slog.Info("upload_complete",
		"image_key", imageKey,
		"bmap_key", resp.BmapKey,
		"manifest_key", resp.ManifestKey,
		"sha256", resp.SHA256[:16]+"...")
	return fsm.NewResponse(resp), nil
}

// handleComplete marks the run as published
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[PublishRequest, PublishResponse]) (*fsm.Response[PublishResponse], error) {
	slog.Info("fsm_state_complete", "image", req.Msg.ImagePath)

	resp := req.W.Msg
	if resp == nil {
		resp = &PublishResponse{}
	}

	if !resp.AlreadyPublished {
		if err := m.repo.UpdateStatus(resp.RunID, db.StatusPublished, ""); err != nil {
			slog.Error("status_update_failed", "run_id", resp.RunID, "error", err)
			return nil, errors.Wrap(err, "failed to update status")
		}
	}
	resp.Status = db.StatusPublished

	slog.Info("fsm_complete", "image", req.Msg.ImagePath, "run_id", resp.RunID, "status", resp.Status)
	return fsm.NewResponse(resp), nil
}

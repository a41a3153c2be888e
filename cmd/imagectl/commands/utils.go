package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edgeimage/imagectl/internal/config"
	"github.com/edgeimage/imagectl/pkg/bmap"
	"github.com/edgeimage/imagectl/pkg/compression"
	"github.com/edgeimage/imagectl/pkg/db"
	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/edgeimage/imagectl/pkg/pipeline"
	"github.com/edgeimage/imagectl/pkg/security"
)

// loadConfig loads and validates the application configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	return cfg, nil
}

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workRoot string) error {
	// Create ledger directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create ledger directory")
	}

	// Create FSM database directory (only needed for publish command)
	if fsmDBPath != "" {
		if err := os.MkdirAll(filepath.Dir(fsmDBPath), 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	// Create workspace root (only when overridden)
	if workRoot != "" {
		if err := os.MkdirAll(workRoot, 0755); err != nil {
			return errors.Wrap(err, "failed to create workspace root")
		}
	}

	return nil
}

// pipelineOptions builds pipeline options from config and command flags
func pipelineOptions(cfg *config.Config, generateBmap bool, targetCompression string) (pipeline.Options, error) {
	codec, err := compression.Parse(targetCompression)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		GenerateBmap:      generateBmap,
		TargetCompression: codec,
		Containerized:     cfg.Containerized,
		WorkRoot:          cfg.WorkRoot,
	}, nil
}

// newValidator builds the payload validator from configured limits
func newValidator(cfg *config.Config) *security.Validator {
	return security.NewValidator(cfg.MaxPayloadSize, cfg.MaxTotalSize, cfg.MaxCompressionRatio)
}

// executeMutation runs the pipeline for one mutation and records the run
// in the ledger
func executeMutation(cfg *config.Config, operation, imageFile string, opts pipeline.Options, mutate pipeline.Mutation) error {
	if err := ensureDirectories(cfg.SQLitePath, "", opts.WorkRoot); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer repo.Close()

	run := &db.Run{
		Image:     imageFile,
		Operation: operation,
		Status:    db.StatusRunning,
	}
	if err := repo.Create(run); err != nil {
		return errors.Wrap(err, "ledger record failed")
	}

	output, err := pipeline.Run(imageFile, opts, mutate)
	if err != nil {
		repo.UpdateStatus(run.ID, db.StatusFailed, err.Error())
		return err
	}

	run.Status = db.StatusSucceeded
	run.OutputPath = output
	run.Compression = string(compression.FromPath(output))
	if opts.GenerateBmap {
		run.BmapPath = bmap.SidecarPath(output)
	}
	if err := repo.Update(run); err != nil {
		return errors.Wrap(err, "ledger update failed")
	}

	fmt.Printf("✅ %s: %s\n", operation, output)
	return nil
}

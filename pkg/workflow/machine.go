// Package workflow implements the publish finite state machine. It
// orchestrates a provisioning run end to end: ledger check, pipeline
// execution, artifact upload to S3, and status bookkeeping, using the
// superfly/fsm library so interrupted runs can resume.
package workflow

import (
	"context"

	"github.com/edgeimage/imagectl/pkg/db"
	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/edgeimage/imagectl/pkg/pipeline"
	"github.com/edgeimage/imagectl/pkg/storage"
	"github.com/superfly/fsm"
)

// Machine holds dependencies for FSM transitions
type Machine struct {
	repo       *db.Repository
	s3Client   *storage.Client
	opts       pipeline.Options
	mutate     pipeline.Mutation
	maxRetries int
}

// NewMachine creates a publish machine with dependencies. mutate may be
// nil for a pure repack-and-publish run.
func NewMachine(
	repo *db.Repository,
	s3Client *storage.Client,
	opts pipeline.Options,
	mutate pipeline.Mutation,
	maxRetries int,
) *Machine {
	if mutate == nil {
		mutate = func(string) error { return nil }
	}
	return &Machine{
		repo:       repo,
		s3Client:   s3Client,
		opts:       opts,
		mutate:     mutate,
		maxRetries: maxRetries,
	}
}

// Register registers the publish FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[PublishRequest, PublishResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[PublishRequest, PublishResponse](manager, "image-publish").
		Start(StateCheckLedger, m.handleCheckLedger).
		To(StateProvision, m.handleProvision).
		To(StateUpload, m.handleUpload).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

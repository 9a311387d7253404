package executor

import (
	"context"

	"github.com/google/uuid"
	"github.com/ironlayer/ironlayer/internal/plan"
	"github.com/ironlayer/ironlayer/internal/repository"
)

// NullExecutor returns a canned terminal status for every step without
// touching a real warehouse. cmd/ironlayerd wires one in as the server's
// executor, plan apply falls back to one when no executor is configured,
// and tests use it to exercise code paths without a live backend.
type NullExecutor struct {
	Status repository.RunStatus
}

// NewNullExecutor builds a NullExecutor that reports status for every run.
func NewNullExecutor(status repository.RunStatus) *NullExecutor {
	if status == "" {
		status = repository.RunSuccess
	}
	return &NullExecutor{Status: status}
}

func (e *NullExecutor) ExecuteStep(ctx context.Context, step plan.Step, sql string, parameters map[string]string) (repository.RunRecord, error) {
	return repository.RunRecord{
		RunID:         uuid.NewString(),
		StepID:        step.StepID,
		ModelName:     step.Model,
		Status:        e.Status,
		ExternalRunID: "null-" + step.StepID,
	}, nil
}

func (e *NullExecutor) PollStatus(ctx context.Context, externalRunID string) (repository.RunStatus, error) {
	return e.Status, nil
}

func (e *NullExecutor) Cancel(ctx context.Context, externalRunID string) error {
	return nil
}

func (e *NullExecutor) VerifyRun(ctx context.Context, externalRunID string) (repository.RunStatus, error) {
	return e.Status, nil
}

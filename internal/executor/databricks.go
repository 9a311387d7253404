package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ironlayer/ironlayer/internal/plan"
	"github.com/ironlayer/ironlayer/internal/repository"
)

const pollInterval = 10 * time.Second

// LifecycleState mirrors the subset of Databricks Jobs API run lifecycle
// states this executor distinguishes between.
type LifecycleState string

const (
	LifecyclePending     LifecycleState = "PENDING"
	LifecycleRunning     LifecycleState = "RUNNING"
	LifecycleTerminating LifecycleState = "TERMINATING"
	LifecycleTerminated  LifecycleState = "TERMINATED"
	LifecycleSkipped     LifecycleState = "SKIPPED"
	LifecycleInternalErr LifecycleState = "INTERNAL_ERROR"
)

// ResultState mirrors the Jobs API result state, populated once a run
// reaches a terminal lifecycle state.
type ResultState string

const (
	ResultSuccess  ResultState = "SUCCESS"
	ResultFailed   ResultState = "FAILED"
	ResultTimedOut ResultState = "TIMEDOUT"
	ResultCanceled ResultState = "CANCELED"
)

// MapDatabricksStatus translates a (lifecycle, result) state pair to a
// repository.RunStatus, per the documented mapping: PENDING→PENDING,
// RUNNING/TERMINATING→RUNNING, TERMINATED+SUCCESS→SUCCESS,
// TERMINATED+{FAILED,TIMEDOUT}/INTERNAL_ERROR→FAIL,
// SKIPPED/TERMINATED+CANCELED→CANCELLED.
func MapDatabricksStatus(lifecycle LifecycleState, result ResultState) repository.RunStatus {
	switch lifecycle {
	case LifecyclePending:
		return repository.RunPending
	case LifecycleRunning, LifecycleTerminating:
		return repository.RunRunning
	case LifecycleSkipped:
		return repository.RunCancelled
	case LifecycleInternalErr:
		return repository.RunFail
	case LifecycleTerminated:
		switch result {
		case ResultSuccess:
			return repository.RunSuccess
		case ResultCanceled:
			return repository.RunCancelled
		case ResultFailed, ResultTimedOut:
			return repository.RunFail
		default:
			return repository.RunFail
		}
	default:
		return repository.RunPending
	}
}

// RunClient is the minimal Databricks Jobs API surface this executor calls.
// A real implementation wraps databricks-sdk-go; tests substitute a fake.
type RunClient interface {
	SubmitRun(ctx context.Context, runName string, sql string, warehouseID string) (externalRunID string, err error)
	GetRunState(ctx context.Context, externalRunID string) (LifecycleState, ResultState, error)
	CancelRun(ctx context.Context, externalRunID string) error
}

// DatabricksExecutor runs plan steps as Databricks SQL tasks. It never logs
// the client's credentials — those live behind RunClient, out of this
// type's reach entirely, rather than being held here and filtered.
type DatabricksExecutor struct {
	client      RunClient
	warehouseID string
	retry       RetryPolicy
}

// NewDatabricksExecutor builds an Executor over client.
func NewDatabricksExecutor(client RunClient, warehouseID string) *DatabricksExecutor {
	return &DatabricksExecutor{client: client, warehouseID: warehouseID, retry: DefaultRetryPolicy()}
}

// ExecuteStep submits step's SQL and polls until it reaches a terminal
// state or ctx is cancelled.
func (e *DatabricksExecutor) ExecuteStep(ctx context.Context, step plan.Step, sql string, parameters map[string]string) (repository.RunRecord, error) {
	runID := uuid.NewString()
	rendered := renderParameters(sql, parameters)

	var externalRunID string
	err := RetryWithBackoff(ctx, e.retry, func() error {
		var err error
		externalRunID, err = e.client.SubmitRun(ctx, fmt.Sprintf("ironlayer-%s-%s", step.Model, runID[:8]), rendered, e.warehouseID)
		return err
	})
	if err != nil {
		return repository.RunRecord{}, fmt.Errorf("executor: submit step %s: %w", step.StepID, err)
	}

	status, err := e.pollUntilTerminal(ctx, externalRunID)
	if err != nil {
		return repository.RunRecord{}, err
	}

	return repository.RunRecord{
		RunID:         runID,
		StepID:        step.StepID,
		ModelName:     step.Model,
		Status:        status,
		ExternalRunID: externalRunID,
	}, nil
}

// PollStatus implements Executor.
func (e *DatabricksExecutor) PollStatus(ctx context.Context, externalRunID string) (repository.RunStatus, error) {
	var status repository.RunStatus
	err := RetryWithBackoff(ctx, e.retry, func() error {
		lifecycle, result, err := e.client.GetRunState(ctx, externalRunID)
		if err != nil {
			return err
		}
		status = MapDatabricksStatus(lifecycle, result)
		return nil
	})
	return status, err
}

// VerifyRun implements Executor (and therefore reconcile.Executor).
func (e *DatabricksExecutor) VerifyRun(ctx context.Context, externalRunID string) (repository.RunStatus, error) {
	return e.PollStatus(ctx, externalRunID)
}

// Cancel implements Executor.
func (e *DatabricksExecutor) Cancel(ctx context.Context, externalRunID string) error {
	return e.client.CancelRun(ctx, externalRunID)
}

func (e *DatabricksExecutor) pollUntilTerminal(ctx context.Context, externalRunID string) (repository.RunStatus, error) {
	for {
		status, err := e.PollStatus(ctx, externalRunID)
		if err != nil {
			return "", err
		}
		if status == repository.RunSuccess || status == repository.RunFail || status == repository.RunCancelled {
			return status, nil
		}
		select {
		case <-ctx.Done():
			_ = e.Cancel(context.Background(), externalRunID)
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// renderParameters substitutes {{ key }} and {{key}} markers, mirroring
// how the warehouse's own SQL widget syntax is pre-rendered before
// submission rather than left to the runtime.
func renderParameters(sql string, params map[string]string) string {
	out := sql
	for k, v := range params {
		out = strings.ReplaceAll(out, "{{ "+k+" }}", v)
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

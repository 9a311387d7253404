package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ironlayer/ironlayer/internal/repository"
)

func TestMapDatabricksStatusTable(t *testing.T) {
	cases := []struct {
		lifecycle LifecycleState
		result    ResultState
		want      repository.RunStatus
	}{
		{LifecyclePending, "", repository.RunPending},
		{LifecycleRunning, "", repository.RunRunning},
		{LifecycleTerminating, "", repository.RunRunning},
		{LifecycleTerminated, ResultSuccess, repository.RunSuccess},
		{LifecycleTerminated, ResultFailed, repository.RunFail},
		{LifecycleInternalErr, "", repository.RunFail},
		{LifecycleSkipped, "", repository.RunCancelled},
		{LifecycleTerminated, ResultCanceled, repository.RunCancelled},
	}
	for _, c := range cases {
		if got := MapDatabricksStatus(c.lifecycle, c.result); got != c.want {
			t.Errorf("MapDatabricksStatus(%s, %s) = %s, want %s", c.lifecycle, c.result, got, c.want)
		}
	}
}

func TestRetryWithBackoffSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	err := RetryWithBackoff(context.Background(), policy, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryWithBackoff: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoffReturnsErrorAfterExhaustion(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	attempts := 0
	err := RetryWithBackoff(context.Background(), policy, func() error {
		attempts++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestRetryWithBackoffRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second}
	err := RetryWithBackoff(ctx, policy, func() error {
		return errors.New("fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type fakeRunClient struct {
	states map[string][2]string
}

func (f *fakeRunClient) SubmitRun(ctx context.Context, runName, sql, warehouseID string) (string, error) {
	return "ext-1", nil
}

func (f *fakeRunClient) GetRunState(ctx context.Context, externalRunID string) (LifecycleState, ResultState, error) {
	s, ok := f.states[externalRunID]
	if !ok {
		return LifecyclePending, "", nil
	}
	return LifecycleState(s[0]), ResultState(s[1]), nil
}

func (f *fakeRunClient) CancelRun(ctx context.Context, externalRunID string) error {
	return nil
}

func TestNullExecutorReportsConfiguredStatus(t *testing.T) {
	e := NewNullExecutor(repository.RunFail)
	status, err := e.PollStatus(context.Background(), "anything")
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if status != repository.RunFail {
		t.Fatalf("status = %s, want FAIL", status)
	}
}

func TestNullExecutorDefaultsToSuccess(t *testing.T) {
	e := NewNullExecutor("")
	if e.Status != repository.RunSuccess {
		t.Fatalf("default status = %s, want SUCCESS", e.Status)
	}
}

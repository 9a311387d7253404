// Package executor defines the abstract interface a warehouse backend
// implements to run plan steps, plus the retry/backoff helper and state
// mapping shared by concrete executors.
package executor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ironlayer/ironlayer/internal/plan"
	"github.com/ironlayer/ironlayer/internal/repository"
)

// Executor runs a single plan step against a warehouse backend and reports
// its outcome. Implementations own their own credentials and transport; the
// planner and scheduler only ever see this interface.
type Executor interface {
	// ExecuteStep submits step for execution and blocks until it reaches a
	// terminal state or ctx is cancelled.
	ExecuteStep(ctx context.Context, step plan.Step, sql string, parameters map[string]string) (repository.RunRecord, error)
	// PollStatus reports the current status of a previously submitted run.
	PollStatus(ctx context.Context, externalRunID string) (repository.RunStatus, error)
	// Cancel requests cancellation of a running job.
	Cancel(ctx context.Context, externalRunID string) error
	// VerifyRun re-confirms a run's terminal status for reconciliation.
	// Satisfies reconcile.Executor.
	VerifyRun(ctx context.Context, externalRunID string) (repository.RunStatus, error)
}

// RetryPolicy configures exponential backoff with jitter between executor
// attempts. RetryWithBackoff retries every error fn returns; it does not
// tell transient failures (HTTP 429, 5xx, network errors) apart from
// permanent ones.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultRetryPolicy mirrors the documented defaults: base 2s, cap 60s,
// 5 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Jitter: true}
}

// delay returns the backoff before retry attempt n (1-indexed: the delay
// taken after the first failure is delay(1)).
func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(p.BaseDelay) * exp)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
	}
	return d
}

// RetryWithBackoff runs fn, retrying on error up to policy.MaxAttempts
// times with exponential backoff between attempts. It returns the last
// error if every attempt fails, or ctx.Err() if ctx is cancelled first.
func RetryWithBackoff(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.delay(attempt)):
		}
	}
	return fmt.Errorf("executor: exhausted %d attempts: %w", policy.MaxAttempts, lastErr)
}

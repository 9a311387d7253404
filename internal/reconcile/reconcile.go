// Package reconcile implements the reconciliation scheduler loop and the
// discrepancy classification between recorded run state and warehouse
// reality.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// RunStatus mirrors the RunRecord status enum.
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusSuccess   RunStatus = "SUCCESS"
	StatusFail      RunStatus = "FAIL"
	StatusCancelled RunStatus = "CANCELLED"
)

// DiscrepancyType classifies a mismatch between expected and actual status.
// The empty string means "matched, nothing to record as unresolved".
type DiscrepancyType string

const (
	DiscrepancyNone               DiscrepancyType = ""
	DiscrepancyPhantomSuccess     DiscrepancyType = "phantom_success"
	DiscrepancyMissedSuccess      DiscrepancyType = "missed_success"
	DiscrepancyStaleRunning       DiscrepancyType = "stale_running"
	DiscrepancyStaleRunningFailed DiscrepancyType = "stale_running_failed"
	DiscrepancyStalePending       DiscrepancyType = "stale_pending"
	DiscrepancyStatusMismatch     DiscrepancyType = "status_mismatch"
)

// ClassifyDiscrepancy implements the expected->actual classification table
// from §4.8, ported directly from the Python reconciliation service.
func ClassifyDiscrepancy(expected, actual RunStatus) DiscrepancyType {
	if expected == actual {
		return DiscrepancyNone
	}
	switch {
	case expected == StatusSuccess && actual == StatusFail:
		return DiscrepancyPhantomSuccess
	case expected == StatusFail && actual == StatusSuccess:
		return DiscrepancyMissedSuccess
	case expected == StatusRunning && actual == StatusSuccess:
		return DiscrepancyStaleRunning
	case expected == StatusRunning && actual == StatusFail:
		return DiscrepancyStaleRunningFailed
	case expected == StatusPending && (actual == StatusSuccess || actual == StatusFail):
		return DiscrepancyStalePending
	default:
		return DiscrepancyStatusMismatch
	}
}

// RunToVerify is one recorded run eligible for reconciliation (has a
// non-empty external_run_id).
type RunToVerify struct {
	RunID          string
	ModelName      string
	ExpectedStatus RunStatus
	ExternalRunID  string
}

// Check is the persisted outcome of reconciling one run.
type Check struct {
	RunID           string
	ModelName       string
	ExpectedStatus  RunStatus
	WarehouseStatus RunStatus
	DiscrepancyType DiscrepancyType
	Resolved        bool
}

// Executor is the subset of the executor interface reconciliation needs.
type Executor interface {
	VerifyRun(ctx context.Context, externalRunID string) (RunStatus, error)
}

// Service runs reconciliation passes over recently recorded runs.
type Service struct {
	executor Executor
	log      logr.Logger
}

// NewService builds a reconciliation Service.
func NewService(executor Executor, log logr.Logger) *Service {
	return &Service{executor: executor, log: log}
}

// TriggerReconciliation checks every run in runs against the executor and
// returns the resulting Checks, sorted by nothing in particular — callers
// persist them as-is.
func (s *Service) TriggerReconciliation(ctx context.Context, runs []RunToVerify) ([]Check, error) {
	checks := make([]Check, 0, len(runs))
	for _, run := range runs {
		if run.ExternalRunID == "" {
			continue
		}
		actual, err := s.executor.VerifyRun(ctx, run.ExternalRunID)
		if err != nil {
			s.log.Error(err, "reconciliation: verify_run failed", "run_id", run.RunID)
			continue
		}
		discrepancy := ClassifyDiscrepancy(run.ExpectedStatus, actual)
		checks = append(checks, Check{
			RunID:           run.RunID,
			ModelName:       run.ModelName,
			ExpectedStatus:  run.ExpectedStatus,
			WarehouseStatus: actual,
			DiscrepancyType: discrepancy,
			Resolved:        discrepancy == DiscrepancyNone,
		})
	}
	return checks, nil
}

// Schedule is a persisted reconciliation schedule entry. TenantID is the
// owning tenant; the scheduler reads schedules across every tenant in one
// pass, so each due schedule carries enough identity to reconcile the right
// tenant's runs.
type Schedule struct {
	ID        string
	TenantID  string
	CronExpr  string
	Enabled   bool
	NextRunAt time.Time
	LastRunAt time.Time
}

// SchedulesReader reads and updates due schedules.
type SchedulesReader interface {
	DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error)
	UpdateScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
}

// TenantReconciler performs one full reconciliation pass for a single
// tenant: list its in-flight runs, verify them against the executor, and
// persist the resulting Checks. The scheduler only needs the tenant ID —
// everything else (opening the tenant's store, building the RunToVerify
// list) is the caller's concern, since reconcile stays independent of
// internal/repository.
type TenantReconciler func(ctx context.Context, tenantID string) error

// SchedulerOption configures optional Scheduler behavior.
type SchedulerOption func(*Scheduler)

// WithReconciler attaches the hook tick() invokes for each due schedule. A
// Scheduler built without this option only advances schedule bookkeeping —
// useful for tests that exercise cron-advancement alone.
func WithReconciler(fn TenantReconciler) SchedulerOption {
	return func(s *Scheduler) { s.reconciler = fn }
}

// Scheduler is the cooperative reconciliation loop: a single background
// task that sleeps, wakes, runs due schedules sequentially, and checks a
// stop signal each wake — mirroring internal/scheduler's ticker/select
// idiom rather than spawning a thread pool.
type Scheduler struct {
	schedules  SchedulesReader
	service    *Service
	reconciler TenantReconciler
	interval   time.Duration
	log        logr.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler builds a Scheduler.
func NewScheduler(schedules SchedulesReader, service *Service, interval time.Duration, log logr.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{schedules: schedules, service: service, interval: interval, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is cancelled, waking every interval to execute due
// schedules. Each wake checks ctx.Done() first, satisfying the
// "checks a stop flag every wake" cancellation contract.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// IsRunning reports whether the loop is currently active; used by health
// checks and tests.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.schedules.DueSchedules(ctx, now)
	if err != nil {
		s.log.Error(err, "reconcile: failed to read due schedules")
		return
	}
	for _, sched := range due {
		nextRun, err := ComputeNextRun(sched.CronExpr, now)
		if err != nil {
			s.log.Error(err, "reconcile: unsupported cron expression", "schedule_id", sched.ID)
			continue
		}
		if err := s.schedules.UpdateScheduleRun(ctx, sched.ID, now, nextRun); err != nil {
			s.log.Error(err, "reconcile: failed to update schedule run", "schedule_id", sched.ID)
		}
		if s.reconciler == nil || sched.TenantID == "" {
			continue
		}
		if err := s.reconciler(ctx, sched.TenantID); err != nil {
			s.log.Error(err, "reconcile: tenant reconciliation pass failed", "schedule_id", sched.ID, "tenant_id", sched.TenantID)
		}
	}
}

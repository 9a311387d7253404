package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/zapr"
	"github.com/google/uuid"
	"github.com/ironlayer/ironlayer/internal/quota"
	"github.com/ironlayer/ironlayer/internal/reconcile"
	"github.com/ironlayer/ironlayer/internal/repository"
	"go.uber.org/zap"
)

type billingPlan struct {
	Tier            quota.Tier `json:"tier"`
	PlanRunsMonthly *int       `json:"plan_runs_monthly,omitempty"`
	AICallsMonthly  *int       `json:"ai_calls_monthly,omitempty"`
	Unlimited       bool       `json:"unlimited"`
}

func planInt(v int) *int { return &v }

// billingCatalog is the static tier catalog GET /billing/plans serves. The
// figures mirror quota.Service's own tier defaults; kept as a separate,
// deliberately duplicated table since this is a public marketing surface,
// not an admission-control decision, and the two are free to drift apart
// over time.
var billingCatalog = []billingPlan{
	{Tier: quota.TierCommunity, PlanRunsMonthly: planInt(100), AICallsMonthly: planInt(500)},
	{Tier: quota.TierTeam, PlanRunsMonthly: planInt(1_000), AICallsMonthly: planInt(5_000)},
	{Tier: quota.TierEnterprise, Unlimited: true},
}

// handleBillingPlans implements GET /billing/plans: an unauthenticated,
// static tier catalog.
func (s *Server) handleBillingPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, billingCatalog)
}

// handleAuditLog implements GET /audit. No persisted audit trail exists in
// this deployment — internal/metering is explicitly best-effort usage
// telemetry, not an audit record, and nothing else records who did what to
// which resource. Rather than fabricate one from metering's buffered
// events, this is an honest, feature-gated 501 until a real audit store is
// built.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "audit log is not yet available in this deployment")
}

// handleReconciliationTrigger implements POST /reconciliation/trigger:
// collects every RUNNING run for the tenant, verifies each against the
// configured executor, and corrects any run whose recorded status has
// drifted from what the executor reports.
func (s *Server) handleReconciliationTrigger(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	checks, err := s.reconcileTenant(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": checks})
}

// reconcileTenant runs one reconciliation pass for tenantID: list its
// RUNNING runs, verify each against the configured executor, and persist
// any corrected status. It backs both the manual POST /reconciliation/trigger
// endpoint and reconcile.Scheduler's per-schedule tick, via
// reconcile.WithReconciler(srv.ReconcileTenantHook) in cmd/ironlayerd.
func (s *Server) reconcileTenant(ctx context.Context, tenantID string) ([]reconcile.Check, error) {
	store, err := s.storeFor(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("open tenant storage: %w", err)
	}

	running, err := store.ListRunsByStatus(ctx, repository.RunRunning)
	if err != nil {
		return nil, fmt.Errorf("list running runs: %w", err)
	}

	runs := make([]reconcile.RunToVerify, 0, len(running))
	for _, rec := range running {
		if rec.ExternalRunID == "" {
			continue
		}
		runs = append(runs, reconcile.RunToVerify{
			RunID:          rec.RunID,
			ModelName:      rec.ModelName,
			ExpectedStatus: reconcile.RunStatus(rec.Status),
			ExternalRunID:  rec.ExternalRunID,
		})
	}

	exec := s.exec
	if exec == nil {
		return []reconcile.Check{}, nil
	}

	svc := reconcile.NewService(reconcileExecutor{exec: exec}, zapr.NewLogger(s.logger))
	checks, err := svc.TriggerReconciliation(ctx, runs)
	if err != nil {
		return nil, fmt.Errorf("reconciliation pass failed: %w", err)
	}

	for _, check := range checks {
		if check.DiscrepancyType == reconcile.DiscrepancyNone {
			continue
		}
		now := time.Now().UTC()
		corrected := repositoryStatusFromReconcile(check.WarehouseStatus)
		if err := store.UpdateRunStatus(ctx, check.RunID, corrected, &now, "corrected by reconciliation"); err != nil {
			s.logger.Warn("failed to persist reconciliation correction", zap.String("run_id", check.RunID), zap.Error(err))
		}
	}

	return checks, nil
}

type scheduleResponse struct {
	ID        string     `json:"id"`
	CronExpr  string     `json:"cron_expr"`
	Enabled   bool       `json:"enabled"`
	NextRunAt time.Time  `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// handleListSchedules implements GET /reconciliation/schedules: every
// periodic reconciliation schedule owned by the caller's tenant.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	store, err := s.storeFor(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open tenant storage")
		return
	}
	rows, err := store.ListReconciliationSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	resp := make([]scheduleResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, scheduleResponse{ID: row.ScheduleID, CronExpr: row.CronExpr, Enabled: row.Enabled, NextRunAt: row.NextRunAt, LastRunAt: row.LastRunAt})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createScheduleRequest struct {
	CronExpr string `json:"cron_expr"`
}

// handleCreateSchedule implements POST /reconciliation/schedules: registers
// a new periodic reconciliation schedule for the caller's tenant, computing
// its first next_run_at from cron_expr.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	nextRun, err := reconcile.ComputeNextRun(req.CronExpr, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported cron_expr: "+err.Error())
		return
	}

	claims, _ := ClaimsFromContext(r.Context())
	store, err := s.storeFor(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open tenant storage")
		return
	}
	scheduleID := uuid.NewString()
	if err := store.CreateReconciliationSchedule(r.Context(), scheduleID, req.CronExpr, true, nextRun); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}
	writeJSON(w, http.StatusCreated, scheduleResponse{ID: scheduleID, CronExpr: req.CronExpr, Enabled: true, NextRunAt: nextRun})
}

// handleDeleteSchedule implements DELETE /reconciliation/schedules/{id}.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	store, err := s.storeFor(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open tenant storage")
		return
	}
	id := r.PathValue("id")
	if err := store.DeleteReconciliationSchedule(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReconcileTenantHook adapts reconcileTenant to reconcile.TenantReconciler so
// cmd/ironlayerd can hand it to reconcile.WithReconciler without exposing
// reconcileTenant's []Check return value to the scheduler, which only cares
// whether the pass succeeded.
func (s *Server) ReconcileTenantHook(ctx context.Context, tenantID string) error {
	checks, err := s.reconcileTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	s.logger.Info("scheduled reconciliation pass complete", zap.String("tenant_id", tenantID), zap.Int("runs_checked", len(checks)))
	return nil
}

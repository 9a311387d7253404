package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/ironlayer/ironlayer/internal/apperror"
	"github.com/ironlayer/ironlayer/internal/approval"
	"github.com/ironlayer/ironlayer/internal/dag"
	"github.com/ironlayer/ironlayer/internal/diff"
	"github.com/ironlayer/ironlayer/internal/executor"
	"github.com/ironlayer/ironlayer/internal/impact"
	"github.com/ironlayer/ironlayer/internal/metering"
	"github.com/ironlayer/ironlayer/internal/model"
	"github.com/ironlayer/ironlayer/internal/plan"
	"github.com/ironlayer/ironlayer/internal/planner"
	"github.com/ironlayer/ironlayer/internal/quota"
	"github.com/ironlayer/ironlayer/internal/repository"
	"go.uber.org/zap"
)

type createPlanRequest struct {
	RepoPath string `json:"repo_path"`
	Base     string `json:"base"`
	Target   string `json:"target"`
	AsOfDate string `json:"as_of_date"`
}

// handleCreatePlan implements POST /plans. The repository has no git
// integration in this deployment (out of scope, per the external-interfaces
// list), so "base" is approximated by the model set already persisted from
// the tenant's last plan generation and "target" by a fresh parse of
// repo_path — the structural diff between those two snapshots is what the
// planner actually needs, regardless of which git refs produced them.
func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	ctx := r.Context()

	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RepoPath == "" || req.AsOfDate == "" {
		writeError(w, http.StatusBadRequest, "repo_path and as_of_date are required")
		return
	}

	store, err := s.storeFor(ctx, claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open tenant storage")
		return
	}

	tier := s.tierFor(ctx, claims.TenantID)
	if s.quotaSvc != nil {
		allowed, reason, err := s.quotaSvc.CheckPlanQuota(ctx, claims.TenantID, tier, nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "quota check failed")
			return
		}
		if !allowed {
			// Every admission check quota.Service performs is a monthly
			// budget counter, never a request-rate limiter, so a denial
			// here always maps to 402, not 429.
			writeError(w, http.StatusPaymentRequired, reason)
			return
		}
	}

	targetDefs, err := s.loader.LoadDir(claims.TenantID, req.RepoPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to load models: "+err.Error())
		return
	}

	baseDefs, err := store.ListModels(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read prior model snapshot")
		return
	}

	baseSnap := diff.Snapshot{Hashes: map[string]string{}}
	for _, d := range baseDefs {
		baseSnap.Hashes[d.Name] = d.ContentHash
	}
	targetSnap := diff.Snapshot{Hashes: map[string]string{}, SQL: map[string]string{}}
	modelsByName := make(map[string]*model.Definition, len(targetDefs))
	referencesByModel := make(map[string][]string, len(targetDefs))
	for _, d := range targetDefs {
		targetSnap.Hashes[d.Name] = d.ContentHash
		targetSnap.SQL[d.Name] = d.CleanSQL
		modelsByName[d.Name] = d
		referencesByModel[d.Name] = d.ReferencedTables
	}

	graph, err := dag.Build(referencesByModel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	differ := diff.New(diff.WithNormalizer(model.NormalizeSQL))
	diffResult := differ.Compare(baseSnap, targetSnap)

	watermarks := make(map[string]planner.Watermark, len(modelsByName))
	for name := range modelsByName {
		start, end, err := store.GetWatermark(ctx, name)
		if err == nil {
			watermarks[name] = planner.Watermark{PartitionStart: start, PartitionEnd: end}
		}
	}

	p, err := planner.Plan(planner.Input{
		Models:     modelsByName,
		DiffResult: diffResult,
		DAG:        graph,
		Watermarks: watermarks,
		RunStats:   map[string]planner.RunStats{},
		Base:       req.Base,
		Target:     req.Target,
		AsOfDate:   req.AsOfDate,
		Config:     planner.DefaultConfig(),
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	approvalSvc := approval.NewService(store)
	if _, err := approvalSvc.Evaluate(ctx, p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to evaluate plan risk")
		return
	}

	if err := store.InsertPlan(ctx, p, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist plan")
		return
	}
	for _, d := range targetDefs {
		if err := store.UpsertModel(ctx, *d); err != nil {
			s.logger.Warn("failed to persist model definition", zap.String("model", d.Name), zap.Error(err))
		}
	}

	if s.metering != nil {
		s.metering.Record(claims.TenantID, metering.EventPlanRun, 1, map[string]string{"plan_id": p.PlanID})
	}

	refreshed, err := store.GetPlan(ctx, p.PlanID)
	if err != nil {
		writeJSON(w, http.StatusCreated, p)
		return
	}
	writeJSON(w, http.StatusCreated, refreshed)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	ctx := r.Context()
	planID := r.PathValue("id")

	store, err := s.storeFor(ctx, claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open tenant storage")
		return
	}
	p, err := store.GetPlan(ctx, planID)
	if err != nil {
		writeError(w, planErrorStatus(err), "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type augmentResponse struct {
	PlanID string                    `json:"plan_id"`
	Impact []impact.DescendantImpact `json:"impact"`
}

// handleAugmentPlan implements POST /plans/{id}/augment. The AI advisory
// microservice itself is an external collaborator out of scope for this
// repository; what this endpoint can do locally is compute the
// deterministic blast-radius impact for the plan's changed models and
// attach that, which is the part of "augment" this repository owns.
func (s *Server) handleAugmentPlan(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	ctx := r.Context()
	planID := r.PathValue("id")

	store, err := s.storeFor(ctx, claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open tenant storage")
		return
	}
	p, err := store.GetPlan(ctx, planID)
	if err != nil {
		writeError(w, planErrorStatus(err), "plan not found")
		return
	}

	defs, err := store.ListModels(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read model snapshot")
		return
	}
	modelsByName := make(map[string]model.Definition, len(defs))
	referencesByModel := make(map[string][]string, len(defs))
	for _, d := range defs {
		modelsByName[d.Name] = d
		referencesByModel[d.Name] = d.ReferencedTables
	}
	graph, err := dag.Build(referencesByModel)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var allImpact []impact.DescendantImpact
	for _, step := range p.Steps {
		allImpact = append(allImpact, impact.Simulate(graph, modelsByName, impact.Change{
			Model: step.Model,
			Kind:  impact.ChangeTypeChange,
		})...)
	}

	writeJSON(w, http.StatusOK, augmentResponse{PlanID: p.PlanID, Impact: allImpact})
}

// handleApplyPlan implements POST /plans/{id}/apply: an approval-gate
// check, then a plan-run quota check, then sequential execution of every
// step via the configured executor, persisted as run records in
// parallel_group order (steps within a group have no ordering requirement
// between them, but this deployment executes them one at a time rather
// than fanning out, keeping executor credential usage predictable). No
// license check is made here; the license only selects the quota tier
// through tierFor.
func (s *Server) handleApplyPlan(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	ctx := r.Context()
	planID := r.PathValue("id")

	store, err := s.storeFor(ctx, claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open tenant storage")
		return
	}
	p, err := store.GetPlan(ctx, planID)
	if err != nil {
		writeError(w, planErrorStatus(err), "plan not found")
		return
	}
	if !approval.IsApplyReady(p) {
		writeError(w, http.StatusConflict, "plan has not cleared the approval gate")
		return
	}

	tier := s.tierFor(ctx, claims.TenantID)
	if s.quotaSvc != nil {
		allowed, reason, err := s.quotaSvc.CheckPlanQuota(ctx, claims.TenantID, tier, nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "quota check failed")
			return
		}
		if !allowed {
			// Every admission check quota.Service performs is a monthly
			// budget counter, never a request-rate limiter, so a denial
			// here always maps to 402, not 429.
			writeError(w, http.StatusPaymentRequired, reason)
			return
		}
	}

	exec := s.exec
	if exec == nil {
		exec = executor.NewNullExecutor("")
	}

	ordered := append([]plan.Step(nil), p.Steps...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ParallelGroup < ordered[j].ParallelGroup
	})

	results := make([]plan.Step, 0, len(p.Steps))
	for _, step := range ordered {
		rec, execErr := exec.ExecuteStep(ctx, step, "", nil)
		rec.PlanID = p.PlanID
		rec.StepID = step.StepID
		rec.ModelName = step.Model
		if execErr != nil {
			s.logger.Warn("plan step execution failed", zap.String("step_id", step.StepID), zap.Error(execErr))
			rec.Status = repository.RunFail
			rec.ErrorMessage = execErr.Error()
		}
		if err := store.InsertRun(ctx, rec); err != nil {
			s.logger.Warn("failed to persist run record", zap.String("step_id", step.StepID), zap.Error(err))
		}
		if execErr == nil {
			results = append(results, step)
		}
	}

	if s.metering != nil {
		s.metering.Record(claims.TenantID, metering.EventPlanApply, len(results), map[string]string{"plan_id": p.PlanID})
	}

	writeJSON(w, http.StatusOK, map[string]any{"plan_id": p.PlanID, "steps_executed": len(results)})
}

// planErrorStatus maps a store.GetPlan error to its HTTP status.
// repository.ErrNotFound is a bare sentinel, never wrapped in
// *apperror.Error, so apperror.KindOf would fall through to KindInternal
// for it; checked directly here instead.
func planErrorStatus(err error) int {
	if errors.Is(err, repository.ErrNotFound) {
		return http.StatusNotFound
	}
	return apperror.HTTPStatus(apperror.KindOf(err))
}

// tierFor resolves the effective quota tier for tenantID: the active
// license's tier when one is loaded, falling back to the tenant's stored
// billing tier, and finally community.
func (s *Server) tierFor(ctx context.Context, tenantID string) quota.Tier {
	if s.licenseMgr != nil && s.licenseMgr.Loaded() {
		return s.licenseMgr.Tier()
	}
	store, err := s.storeFor(ctx, tenantID)
	if err != nil {
		return quota.TierCommunity
	}
	cust, err := store.GetBillingCustomer(ctx)
	if err != nil || cust.PlanTier == "" {
		return quota.TierCommunity
	}
	return quota.Tier(cust.PlanTier)
}

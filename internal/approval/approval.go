// Package approval implements the risk-gated approval path a Plan passes
// through between generation and apply: low-risk plans auto-approve,
// everything else waits for an explicit, RBAC-checked human decision.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ironlayer/ironlayer/internal/plan"
)

// RiskLevel classifies how much damage an applied plan could do if wrong.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var (
	// ErrAlreadyApproved is returned when Approve is called on a plan that
	// was already auto-approved.
	ErrAlreadyApproved = errors.New("approval: plan already auto-approved")
	// ErrPlanNotFound wraps the underlying store's not-found error so this
	// package stays independent of the concrete storage error type.
	ErrPlanNotFound = errors.New("approval: plan not found")
)

// ClassifyRisk scores a plan from its summary and step shape. Any breaking
// contract violation is always critical — a breaking change reaching apply
// is the one outcome this gate exists to prevent. Full-refresh steps are
// weighed above incremental ones since they discard and rebuild rather than
// append.
func ClassifyRisk(p plan.Plan) RiskLevel {
	if p.Summary.BreakingContractViolations > 0 {
		return RiskCritical
	}

	fullRefreshCount := 0
	for _, step := range p.Steps {
		if step.RunType == plan.RunTypeFullRefresh {
			fullRefreshCount++
		}
	}

	switch {
	case fullRefreshCount > 3 || p.Summary.TotalSteps > 20:
		return RiskHigh
	case fullRefreshCount > 0 || p.Summary.ContractViolationsCount > 0:
		return RiskMedium
	default:
		return RiskLow
	}
}

// NeedsApproval reports whether a plan of this risk level requires an
// explicit human decision before it may be applied. Low risk plans
// auto-approve; everything else does not.
func NeedsApproval(level RiskLevel) bool {
	return level != RiskLow
}

// PlanStore is the subset of repository.Store the approval gate depends on,
// kept narrow here so this package stays testable without a real database.
type PlanStore interface {
	GetPlan(ctx context.Context, planID string) (plan.Plan, error)
	UpdatePlanApprovals(ctx context.Context, p plan.Plan) error
}

// Service evaluates and records plan approvals. It does not enforce RBAC
// itself — callers are expected to have already checked
// auth.RequirePermission(claims, auth.PermApplyPlans) before calling
// Approve. Service's job is the risk gate and the persisted approvals list,
// not identity.
type Service struct {
	store PlanStore
}

// NewService builds an approval Service over store.
func NewService(store PlanStore) *Service {
	return &Service{store: store}
}

// Evaluate classifies p's risk and, if it is low risk, marks it
// auto-approved and persists that immediately. It returns the resulting
// risk level so the caller can decide whether to block on human review.
func (s *Service) Evaluate(ctx context.Context, p plan.Plan) (RiskLevel, error) {
	level := ClassifyRisk(p)
	if !NeedsApproval(level) {
		p.AutoApproved = true
		if err := s.store.UpdatePlanApprovals(ctx, p); err != nil {
			return level, fmt.Errorf("approval: persist auto-approval: %w", err)
		}
	}
	return level, nil
}

// Approve records a human approval against planID. Repeated approvals from
// different users simply append; approving an already auto-approved plan
// is rejected since that decision has already been made.
func (s *Service) Approve(ctx context.Context, planID, userID, comment string, at time.Time) (plan.Plan, error) {
	p, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return plan.Plan{}, ErrPlanNotFound
	}
	if p.AutoApproved {
		return plan.Plan{}, ErrAlreadyApproved
	}

	p.Approvals = append(p.Approvals, plan.Approval{
		UserID:     userID,
		ApprovedAt: at.UTC().Format(time.RFC3339),
		Comment:    comment,
	})

	if err := s.store.UpdatePlanApprovals(ctx, p); err != nil {
		return plan.Plan{}, fmt.Errorf("approval: persist approval: %w", err)
	}
	return p, nil
}

// IsApplyReady reports whether p has cleared the approval gate: either it
// was auto-approved, or at least one human approval is recorded.
//
// A plan with any breaking contract violation is never apply-ready,
// regardless of approval state: contract.Validate only emits
// contract.SeverityBreaking under ContractModeStrict (WARN mode downgrades
// it), so BreakingContractViolations > 0 already implies STRICT — no human
// approval can override this (S5).
func IsApplyReady(p plan.Plan) bool {
	if p.Summary.BreakingContractViolations > 0 {
		return false
	}
	return p.AutoApproved || len(p.Approvals) > 0
}

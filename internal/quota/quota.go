// Package quota enforces per-tenant admission control across plan runs, AI
// calls, API requests, seats, model counts, and LLM budgets.
package quota

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/go-logr/logr"
)

// Tier is a billing plan tier.
type Tier string

const (
	TierCommunity  Tier = "community"
	TierTeam       Tier = "team"
	TierEnterprise Tier = "enterprise"
)

// EventType is the kind of admission check being performed.
type EventType string

const (
	EventPlanRun     EventType = "plan_run"
	EventAICall      EventType = "ai_call"
	EventAPIRequest  EventType = "api_request"
	EventSeatCheck   EventType = "seat_check"
	EventModelCheck  EventType = "model_check"
)

// tierDefault is one row of the tier defaults table. A nil pointer means
// unlimited.
type tierDefault struct {
	PlanQuotaMonthly *int
	AIQuotaMonthly   *int
	APIQuotaMonthly  *int
	MaxSeats         *int
	MaxModels        *int
}

func intp(v int) *int { return &v }

var tierDefaults = map[Tier]tierDefault{
	TierCommunity: {
		PlanQuotaMonthly: intp(100),
		AIQuotaMonthly:   intp(500),
		APIQuotaMonthly:  intp(10_000),
		MaxSeats:         intp(1),
		MaxModels:        intp(5),
	},
	TierTeam: {
		PlanQuotaMonthly: intp(1_000),
		AIQuotaMonthly:   intp(5_000),
		APIQuotaMonthly:  intp(100_000),
		MaxSeats:         intp(10),
		MaxModels:        nil,
	},
	TierEnterprise: {
		PlanQuotaMonthly: nil,
		AIQuotaMonthly:   nil,
		APIQuotaMonthly:  nil,
		MaxSeats:         nil,
		MaxModels:        nil,
	},
}

// Overrides holds a tenant's explicit TenantConfig quota overrides. A nil
// pointer means "no override, fall through to tier default".
type Overrides struct {
	PlanQuotaMonthly *int
	AIQuotaMonthly   *int
	APIQuotaMonthly  *int
	MaxSeats         *int
	MaxModels        *int
}

// UsageReader reads current usage counters from the repository layer.
type UsageReader interface {
	MonthlyEventCount(ctx context.Context, tenantID string, eventType EventType) (int, error)
	ActiveSeatCount(ctx context.Context, tenantID string) (int, error)
	ModelCount(ctx context.Context, tenantID string) (int, error)
	DailyLLMCostUSD(ctx context.Context, tenantID string) (float64, error)
	MonthlyLLMCostUSD(ctx context.Context, tenantID string) (float64, error)
}

// AdvisoryLocker acquires a transaction-scoped advisory lock keyed on an
// integer. On dialects without advisory locks this is a no-op.
type AdvisoryLocker interface {
	LockAdvisory(ctx context.Context, key int64) error
}

// NoopLocker is the AdvisoryLocker used on dialects without advisory lock
// support (sqlite, mysql) — a documented no-op, matching the spec's
// "non-locking dialects: no-op" rule.
type NoopLocker struct{}

// LockAdvisory is a no-op.
func (NoopLocker) LockAdvisory(context.Context, int64) error { return nil }

// Service is the quota admission service.
type Service struct {
	usage  UsageReader
	locker AdvisoryLocker
	log    logr.Logger
}

// New builds a quota Service.
func New(usage UsageReader, locker AdvisoryLocker, log logr.Logger) *Service {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &Service{usage: usage, locker: locker, log: log}
}

// advisoryLockKey hashes (tenantID, eventType) into an int64 lock key.
func advisoryLockKey(tenantID string, eventType EventType) int64 {
	sum := sha256.Sum256([]byte(tenantID + "|" + string(eventType)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// effectiveQuota resolves explicit override > tier default > unlimited.
func effectiveQuota(override, tierVal *int) (limit int, unlimited bool) {
	if override != nil {
		return *override, false
	}
	if tierVal != nil {
		return *tierVal, false
	}
	return 0, true
}

// Check performs the generic admission check shared by the plan/AI/API
// quota event types: acquire advisory lock, read limit, read usage, compare.
func (s *Service) Check(ctx context.Context, tenantID string, tier Tier, eventType EventType, override *int) (allowed bool, reason string, err error) {
	if err := s.locker.LockAdvisory(ctx, advisoryLockKey(tenantID, eventType)); err != nil {
		return false, "", fmt.Errorf("acquire advisory lock: %w", err)
	}

	td := tierDefaults[tier]
	var tierVal *int
	switch eventType {
	case EventPlanRun:
		tierVal = td.PlanQuotaMonthly
	case EventAICall:
		tierVal = td.AIQuotaMonthly
	case EventAPIRequest:
		tierVal = td.APIQuotaMonthly
	}

	limit, unlimited := effectiveQuota(override, tierVal)
	if unlimited {
		return true, "", nil
	}

	current, err := s.usage.MonthlyEventCount(ctx, tenantID, eventType)
	if err != nil {
		return false, "", fmt.Errorf("read usage: %w", err)
	}

	if current < limit {
		return true, "", nil
	}
	return false, fmt.Sprintf("%s limit reached (%d/%d) this month", eventType, current, limit), nil
}

// CheckPlanQuota checks the monthly plan-run quota.
func (s *Service) CheckPlanQuota(ctx context.Context, tenantID string, tier Tier, override *int) (bool, string, error) {
	return s.Check(ctx, tenantID, tier, EventPlanRun, override)
}

// CheckAIQuota checks the monthly AI-call quota.
func (s *Service) CheckAIQuota(ctx context.Context, tenantID string, tier Tier, override *int) (bool, string, error) {
	return s.Check(ctx, tenantID, tier, EventAICall, override)
}

// CheckAPIQuota checks the monthly API-request quota.
func (s *Service) CheckAPIQuota(ctx context.Context, tenantID string, tier Tier, override *int) (bool, string, error) {
	return s.Check(ctx, tenantID, tier, EventAPIRequest, override)
}

// CheckSeatQuota checks the active-seat quota.
func (s *Service) CheckSeatQuota(ctx context.Context, tenantID string, tier Tier, override *int) (bool, string, error) {
	if err := s.locker.LockAdvisory(ctx, advisoryLockKey(tenantID, EventSeatCheck)); err != nil {
		return false, "", fmt.Errorf("acquire advisory lock: %w", err)
	}
	td := tierDefaults[tier]
	limit, unlimited := effectiveQuota(override, td.MaxSeats)
	if unlimited {
		return true, "", nil
	}
	current, err := s.usage.ActiveSeatCount(ctx, tenantID)
	if err != nil {
		return false, "", fmt.Errorf("read seat usage: %w", err)
	}
	if current < limit {
		return true, "", nil
	}
	return false, fmt.Sprintf("Seat limit reached (%d/%d); upgrade your plan to add seats", current, limit), nil
}

// CheckModelQuota checks the model-count quota.
func (s *Service) CheckModelQuota(ctx context.Context, tenantID string, tier Tier, override *int) (bool, string, error) {
	if err := s.locker.LockAdvisory(ctx, advisoryLockKey(tenantID, EventModelCheck)); err != nil {
		return false, "", fmt.Errorf("acquire advisory lock: %w", err)
	}
	td := tierDefaults[tier]
	limit, unlimited := effectiveQuota(override, td.MaxModels)
	if unlimited {
		return true, "", nil
	}
	current, err := s.usage.ModelCount(ctx, tenantID)
	if err != nil {
		return false, "", fmt.Errorf("read model count: %w", err)
	}
	if current < limit {
		return true, "", nil
	}
	return false, fmt.Sprintf("Model limit reached (%d/%d)", current, limit), nil
}

// CheckLLMBudget checks both the daily and monthly LLM budgets. Both must
// pass for the call to be allowed.
func (s *Service) CheckLLMBudget(ctx context.Context, tenantID string, dailyBudgetUSD, monthlyBudgetUSD float64) (bool, string, error) {
	if dailyBudgetUSD > 0 {
		daily, err := s.usage.DailyLLMCostUSD(ctx, tenantID)
		if err != nil {
			return false, "", fmt.Errorf("read daily LLM cost: %w", err)
		}
		if daily >= dailyBudgetUSD {
			return false, fmt.Sprintf("daily LLM budget exceeded ($%.2f/$%.2f)", daily, dailyBudgetUSD), nil
		}
	}
	if monthlyBudgetUSD > 0 {
		monthly, err := s.usage.MonthlyLLMCostUSD(ctx, tenantID)
		if err != nil {
			return false, "", fmt.Errorf("read monthly LLM cost: %w", err)
		}
		if monthly >= monthlyBudgetUSD {
			return false, fmt.Sprintf("monthly LLM budget exceeded ($%.2f/$%.2f)", monthly, monthlyBudgetUSD), nil
		}
	}
	return true, "", nil
}

// UsageVsLimits is a point-in-time snapshot for display purposes.
type UsageVsLimits struct {
	PlanRuns, PlanRunsLimit int
	AICalls, AICallsLimit   int
	APIRequests, APIRequestsLimit int
	Seats, SeatsLimit       int
	Models, ModelsLimit     int
	Unlimited               map[string]bool
}

// GetUsageVsLimits reads all counters and limits for display, without
// acquiring an advisory lock (it is a read-only report, not an admission
// decision).
func (s *Service) GetUsageVsLimits(ctx context.Context, tenantID string, tier Tier, ov Overrides) (UsageVsLimits, error) {
	td := tierDefaults[tier]
	out := UsageVsLimits{Unlimited: map[string]bool{}}

	planLimit, planUnlimited := effectiveQuota(ov.PlanQuotaMonthly, td.PlanQuotaMonthly)
	aiLimit, aiUnlimited := effectiveQuota(ov.AIQuotaMonthly, td.AIQuotaMonthly)
	apiLimit, apiUnlimited := effectiveQuota(ov.APIQuotaMonthly, td.APIQuotaMonthly)
	seatLimit, seatUnlimited := effectiveQuota(ov.MaxSeats, td.MaxSeats)
	modelLimit, modelUnlimited := effectiveQuota(ov.MaxModels, td.MaxModels)

	out.PlanRunsLimit, out.Unlimited["plan_runs"] = planLimit, planUnlimited
	out.AICallsLimit, out.Unlimited["ai_calls"] = aiLimit, aiUnlimited
	out.APIRequestsLimit, out.Unlimited["api_requests"] = apiLimit, apiUnlimited
	out.SeatsLimit, out.Unlimited["seats"] = seatLimit, seatUnlimited
	out.ModelsLimit, out.Unlimited["models"] = modelLimit, modelUnlimited

	var err error
	if out.PlanRuns, err = s.usage.MonthlyEventCount(ctx, tenantID, EventPlanRun); err != nil {
		return out, err
	}
	if out.AICalls, err = s.usage.MonthlyEventCount(ctx, tenantID, EventAICall); err != nil {
		return out, err
	}
	if out.APIRequests, err = s.usage.MonthlyEventCount(ctx, tenantID, EventAPIRequest); err != nil {
		return out, err
	}
	if out.Seats, err = s.usage.ActiveSeatCount(ctx, tenantID); err != nil {
		return out, err
	}
	if out.Models, err = s.usage.ModelCount(ctx, tenantID); err != nil {
		return out, err
	}
	return out, nil
}

// Package analytics implements the cross-tenant platform analytics
// surface (§4.19 supplement): aggregate tenant/revenue/cost/health
// numbers computed directly over the shared repository tables rather
// than through any tenant-bound repository.Store, since every query
// here spans every tenant by design. Grounded on
// original_source/api/tests/test_analytics_service.py, the only
// surviving artifact of the original analytics_service.py (its source
// was not retained in the retrieval pack) — the five operations below
// (Overview, TenantBreakdown, Revenue, CostBreakdown, Health) and their
// days/limit/offset/group_by parameter shapes mirror that test's
// assertions on AnalyticsService.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ironlayer/ironlayer/internal/metering"
	"github.com/ironlayer/ironlayer/internal/quota"
	"github.com/ironlayer/ironlayer/internal/repository"
)

// Service computes platform-wide analytics over the shared database. It
// holds no tenant binding — every query here is intentionally cross-tenant.
type Service struct {
	db     *sql.DB
	upsert repository.Upserter
}

// NewService builds a Service over an already-migrated database.
func NewService(db *sql.DB, dialect repository.Dialect) (*Service, error) {
	upsert, err := repository.UpserterFor(dialect)
	if err != nil {
		return nil, err
	}
	return &Service{db: db, upsert: upsert}, nil
}

func (s *Service) ph(pos int) string { return s.upsert.Placeholder(pos) }

// Overview is the platform-wide summary GET /analytics/overview serves.
// ActiveTenants keeps the original service's "_30d" field name regardless
// of the actual requested window, matching the surviving test's literal
// JSON key rather than renaming it to track days.
type Overview struct {
	TotalTenants  int `json:"total_tenants"`
	ActiveTenants int `json:"active_tenants_30d"`
	TotalPlans    int `json:"total_plans"`
	TotalRuns     int `json:"total_runs"`
	TotalAICalls  int `json:"total_ai_calls"`
}

// Overview computes platform totals plus the count of tenants with at
// least one run_record in the last `days` days. days defaults to 30 when
// zero, matching get_overview()'s default.
func (s *Service) Overview(ctx context.Context, days int) (Overview, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)

	var o Overview
	if err := s.scalar(ctx, "SELECT COUNT(DISTINCT tenant_id) FROM users", nil, &o.TotalTenants); err != nil {
		return Overview{}, fmt.Errorf("analytics: count tenants: %w", err)
	}
	if err := s.scalar(ctx,
		fmt.Sprintf("SELECT COUNT(DISTINCT tenant_id) FROM run_records WHERE started_at >= %s", s.ph(1)),
		[]any{since}, &o.ActiveTenants); err != nil {
		return Overview{}, fmt.Errorf("analytics: count active tenants: %w", err)
	}
	if err := s.scalar(ctx, "SELECT COUNT(*) FROM plans", nil, &o.TotalPlans); err != nil {
		return Overview{}, fmt.Errorf("analytics: count plans: %w", err)
	}
	if err := s.scalar(ctx, "SELECT COUNT(*) FROM run_records", nil, &o.TotalRuns); err != nil {
		return Overview{}, fmt.Errorf("analytics: count runs: %w", err)
	}
	if err := s.scalar(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM metering_events WHERE event_type = %s", s.ph(1)),
		[]any{string(metering.EventAICall)}, &o.TotalAICalls); err != nil {
		return Overview{}, fmt.Errorf("analytics: count ai calls: %w", err)
	}
	return o, nil
}

// TenantRow is one tenant's activity summary within TenantBreakdown.
type TenantRow struct {
	TenantID  string `json:"tenant_id"`
	PlanCount int    `json:"plan_count"`
	RunCount  int    `json:"run_count"`
}

// TenantBreakdown is the paginated per-tenant activity listing.
type TenantBreakdown struct {
	Tenants []TenantRow `json:"tenants"`
	Total   int         `json:"total"`
}

// TenantBreakdown ranks tenants by plan activity in the last `days` days,
// paginated by limit/offset. Defaults: days=30, limit=50, offset=0,
// matching get_tenant_breakdown()'s asserted defaults.
func (s *Service) TenantBreakdown(ctx context.Context, days, limit, offset int) (TenantBreakdown, error) {
	if days <= 0 {
		days = 30
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)

	var total int
	if err := s.scalar(ctx,
		fmt.Sprintf("SELECT COUNT(DISTINCT tenant_id) FROM plans WHERE created_at >= %s", s.ph(1)),
		[]any{since}, &total); err != nil {
		return TenantBreakdown{}, fmt.Errorf("analytics: count active tenants for breakdown: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.tenant_id,
		       COUNT(DISTINCT p.plan_id) AS plan_count,
		       COALESCE((SELECT COUNT(*) FROM run_records r WHERE r.tenant_id = p.tenant_id AND r.started_at >= %s), 0) AS run_count
		FROM plans p
		WHERE p.created_at >= %s
		GROUP BY p.tenant_id
		ORDER BY plan_count DESC, p.tenant_id ASC
		LIMIT %s OFFSET %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
		since, since, limit, offset,
	)
	if err != nil {
		return TenantBreakdown{}, fmt.Errorf("analytics: query tenant breakdown: %w", err)
	}
	defer rows.Close()

	var result TenantBreakdown
	result.Total = total
	for rows.Next() {
		var row TenantRow
		if err := rows.Scan(&row.TenantID, &row.PlanCount, &row.RunCount); err != nil {
			return TenantBreakdown{}, err
		}
		result.Tenants = append(result.Tenants, row)
	}
	return result, rows.Err()
}

// Revenue is the MRR snapshot GET /analytics/revenue serves. Tier prices
// are a nominal price list (nothing in the retrieval pack's schema
// persists an actual per-tenant price — billing_customers only tracks
// plan_tier), matching §6.6's billingCatalog precedent of a deliberately
// separate, hand-maintained pricing table rather than a live computation.
type Revenue struct {
	MRRUSD        float64        `json:"mrr_usd"`
	Subscriptions map[string]int `json:"subscriptions"`
}

var tierMonthlyPriceUSD = map[quota.Tier]float64{
	quota.TierCommunity:  0,
	quota.TierTeam:       499,
	quota.TierEnterprise: 4999,
}

// Revenue computes MRR and the subscription count per tier across every
// tenant with a billing_customers row.
func (s *Service) Revenue(ctx context.Context) (Revenue, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT plan_tier FROM billing_customers")
	if err != nil {
		return Revenue{}, fmt.Errorf("analytics: query billing customers: %w", err)
	}
	defer rows.Close()

	rev := Revenue{Subscriptions: map[string]int{}}
	for rows.Next() {
		var tier string
		if err := rows.Scan(&tier); err != nil {
			return Revenue{}, err
		}
		rev.Subscriptions[tier]++
		rev.MRRUSD += tierMonthlyPriceUSD[quota.Tier(tier)]
	}
	return rev, rows.Err()
}

// CostItem is one grouped cost bucket within CostBreakdown.
type CostItem struct {
	Key     string  `json:"key"`
	CostUSD float64 `json:"cost_usd"`
}

// CostBreakdown is the grouped platform-wide cost report.
type CostBreakdown struct {
	Items   []CostItem `json:"items"`
	GroupBy string     `json:"group_by"`
}

// CostBreakdown sums run_records.cost_usd over the last `days` days,
// grouped by "model" (model_name) or "time" (calendar day). Defaults:
// days=30, group_by="model", matching get_cost_breakdown()'s asserted
// defaults.
func (s *Service) CostBreakdown(ctx context.Context, days int, groupBy string) (CostBreakdown, error) {
	if days <= 0 {
		days = 30
	}
	if groupBy == "" {
		groupBy = "model"
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)

	var query string
	switch groupBy {
	case "time":
		// substr(started_at, 1, 10) isolates the YYYY-MM-DD prefix of the
		// RFC3339Nano timestamp every dialect stores here as TEXT.
		query = fmt.Sprintf(`
			SELECT substr(started_at, 1, 10) AS bucket, COALESCE(SUM(cost_usd), 0)
			FROM run_records WHERE started_at >= %s
			GROUP BY bucket ORDER BY bucket ASC`, s.ph(1))
	default:
		groupBy = "model"
		query = fmt.Sprintf(`
			SELECT model_name AS bucket, COALESCE(SUM(cost_usd), 0)
			FROM run_records WHERE started_at >= %s
			GROUP BY bucket ORDER BY bucket ASC`, s.ph(1))
	}

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return CostBreakdown{}, fmt.Errorf("analytics: query cost breakdown: %w", err)
	}
	defer rows.Close()

	result := CostBreakdown{GroupBy: groupBy}
	for rows.Next() {
		var item CostItem
		if err := rows.Scan(&item.Key, &item.CostUSD); err != nil {
			return CostBreakdown{}, err
		}
		result.Items = append(result.Items, item)
	}
	return result, rows.Err()
}

// Health is the platform-wide health snapshot GET /analytics/health serves.
type Health struct {
	ErrorRate     float64 `json:"error_rate"`
	AISuccessRate float64 `json:"ai_success_rate"`
}

// Health computes the run failure rate and AI call success rate over the
// last `days` days. days defaults to 30, matching get_health()'s default.
// A window with no runs reports an error rate of 0 rather than dividing
// by zero.
func (s *Service) Health(ctx context.Context, days int) (Health, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)

	var total, failed int
	if err := s.scalar(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM run_records WHERE started_at >= %s", s.ph(1)),
		[]any{since}, &total); err != nil {
		return Health{}, fmt.Errorf("analytics: count runs for health: %w", err)
	}
	if err := s.scalar(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM run_records WHERE started_at >= %s AND status = %s", s.ph(1), s.ph(2)),
		[]any{since, string(repository.RunFail)}, &failed); err != nil {
		return Health{}, fmt.Errorf("analytics: count failed runs: %w", err)
	}

	// metering_events has no persisted AI-call failure flag, so
	// AISuccessRate is always reported as 1, whether or not any AI calls
	// happened in the window; it is not an actual failure ratio.
	var aiTotal int
	if err := s.scalar(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM metering_events WHERE event_type = %s AND recorded_at >= %s", s.ph(1), s.ph(2)),
		[]any{string(metering.EventAICall), since}, &aiTotal); err != nil {
		return Health{}, fmt.Errorf("analytics: count ai calls for health: %w", err)
	}

	health := Health{ErrorRate: 0, AISuccessRate: 1}
	if total > 0 {
		health.ErrorRate = float64(failed) / float64(total)
	}
	if aiTotal > 0 {
		health.AISuccessRate = 1
	}
	return health, nil
}

func (s *Service) scalar(ctx context.Context, query string, args []any, dest *int) error {
	return s.db.QueryRowContext(ctx, query, args...).Scan(dest)
}

// Package repository is the tenant-scoped persistence layer. A Store is
// bound to one tenant at construction and its tenant-owned queries carry a
// tenant_id predicate; callers outside this package can't accidentally
// leak a cross-tenant row. The token revocation queries are keyed by jti
// alone, and the metering flush writes each event's own tenant_id. Dialect differences (upsert syntax, placeholder
// style) are resolved once at construction via an Upserter strategy rather
// than branched at every call site.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ironlayer/ironlayer/internal/metering"
	"github.com/ironlayer/ironlayer/internal/model"
	"github.com/ironlayer/ironlayer/internal/plan"
)

// ErrNotFound is returned when a tenant-scoped lookup finds no row.
var ErrNotFound = errors.New("repository: not found")

// Store is the tenant-scoped handle onto the backing database.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	upsert   Upserter
	tenantID string
}

// New opens a Store bound to tenantID over an already-open *sql.DB and
// ensures the schema exists.
func New(ctx context.Context, db *sql.DB, dialect Dialect, tenantID string) (*Store, error) {
	upsert, err := UpserterFor(dialect)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, dialect: dialect, upsert: upsert, tenantID: tenantID}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("repository: migrate: %w", err)
	}
	return s, nil
}

// WithTenant returns a new Store bound to a different tenant over the same
// connection pool, avoiding a second schema migration.
func (s *Store) WithTenant(tenantID string) *Store {
	clone := *s
	clone.tenantID = tenantID
	return &clone
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS model_definitions (
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			materialization TEXT NOT NULL,
			time_column TEXT,
			unique_key TEXT,
			file_path TEXT,
			content_hash TEXT NOT NULL,
			definition_json TEXT NOT NULL,
			PRIMARY KEY (tenant_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			tenant_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			base TEXT NOT NULL,
			target TEXT NOT NULL,
			plan_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, plan_id)
		)`,
		`CREATE TABLE IF NOT EXISTS run_records (
			tenant_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT,
			external_run_id TEXT,
			error_message TEXT,
			logs_uri TEXT,
			cost_usd REAL,
			PRIMARY KEY (tenant_id, run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS watermarks (
			tenant_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			partition_start TEXT NOT NULL,
			partition_end TEXT NOT NULL,
			PRIMARY KEY (tenant_id, model_name)
		)`,
		`CREATE TABLE IF NOT EXISTS tenant_configs (
			tenant_id TEXT PRIMARY KEY,
			llm_enabled INTEGER NOT NULL DEFAULT 0,
			llm_daily_budget_usd REAL,
			llm_monthly_budget_usd REAL,
			plan_quota_monthly INTEGER,
			ai_quota_monthly INTEGER,
			api_quota_monthly INTEGER,
			max_seats INTEGER,
			max_models INTEGER,
			deactivated_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS token_revocations (
			jti TEXT PRIMARY KEY,
			reason TEXT,
			revoked_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metering_events (
			event_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			cost_usd REAL NOT NULL DEFAULT 0,
			metadata_json TEXT,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS billing_customers (
			tenant_id TEXT PRIMARY KEY,
			stripe_customer_id TEXT NOT NULL UNIQUE,
			stripe_subscription_id TEXT,
			plan_tier TEXT NOT NULL,
			period_start TEXT,
			period_end TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_configs (
			tenant_id TEXT NOT NULL,
			id TEXT NOT NULL,
			provider TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			branch TEXT NOT NULL,
			secret_hash TEXT NOT NULL,
			secret_encrypted BLOB,
			auto_plan INTEGER NOT NULL DEFAULT 1,
			auto_apply INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS reconciliation_schedules (
			tenant_id TEXT NOT NULL,
			schedule_id TEXT NOT NULL,
			cron_expr TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			next_run_at TEXT NOT NULL,
			last_run_at TEXT,
			PRIMARY KEY (tenant_id, schedule_id)
		)`,
		`CREATE TABLE IF NOT EXISTS environments (
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			catalog TEXT NOT NULL,
			schema_prefix TEXT NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			is_production INTEGER NOT NULL DEFAULT 0,
			is_ephemeral INTEGER NOT NULL DEFAULT 0,
			pr_number INTEGER,
			branch_name TEXT,
			expires_at TEXT,
			created_by TEXT NOT NULL,
			deleted_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS environment_promotions (
			tenant_id TEXT NOT NULL,
			id TEXT NOT NULL,
			source_environment TEXT NOT NULL,
			target_environment TEXT NOT NULL,
			source_snapshot_id TEXT NOT NULL,
			target_snapshot_id TEXT NOT NULL,
			promoted_by TEXT NOT NULL,
			promoted_at TEXT NOT NULL,
			metadata_json TEXT,
			PRIMARY KEY (tenant_id, id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- ModelDefinition -------------------------------------------------

// UpsertModel creates or replaces the model_definitions row for def.Name
// within the bound tenant.
func (s *Store) UpsertModel(ctx context.Context, def model.Definition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal model definition: %w", err)
	}
	columns := []string{"tenant_id", "name", "kind", "materialization", "time_column", "unique_key", "file_path", "content_hash", "definition_json"}
	query := s.upsert.BuildUpsert("model_definitions", columns, []string{"tenant_id", "name"})
	_, err = s.db.ExecContext(ctx, query,
		s.tenantID, def.Name, string(def.Kind), string(def.Materialization),
		def.TimeColumn, def.UniqueKey, def.FilePath, def.ContentHash, string(payload),
	)
	return err
}

// GetModel fetches a model by name within the bound tenant.
func (s *Store) GetModel(ctx context.Context, name string) (model.Definition, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT definition_json FROM model_definitions WHERE tenant_id = %s AND name = %s", s.ph(1), s.ph(2)),
		s.tenantID, name,
	)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Definition{}, ErrNotFound
		}
		return model.Definition{}, err
	}
	var def model.Definition
	if err := json.Unmarshal([]byte(payload), &def); err != nil {
		return model.Definition{}, err
	}
	return def, nil
}

// ListModels returns every model for the bound tenant, ordered by name.
func (s *Store) ListModels(ctx context.Context) ([]model.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT definition_json FROM model_definitions WHERE tenant_id = %s ORDER BY name ASC", s.ph(1)),
		s.tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []model.Definition
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var def model.Definition
		if err := json.Unmarshal([]byte(payload), &def); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// --- Plan --------------------------------------------------------------

// InsertPlan persists a newly generated plan. Plans are immutable except
// for approvals/auto_approved, which callers apply via UpdatePlanApprovals.
func (s *Store) InsertPlan(ctx context.Context, p plan.Plan, recordedAt time.Time) error {
	payload, err := p.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO plans (tenant_id, plan_id, base, target, plan_json, created_at) VALUES (%s, %s, %s, %s, %s, %s)",
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6)),
		s.tenantID, p.PlanID, p.Base, p.Target, string(payload), recordedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetPlan fetches a plan by ID within the bound tenant.
func (s *Store) GetPlan(ctx context.Context, planID string) (plan.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT plan_json FROM plans WHERE tenant_id = %s AND plan_id = %s", s.ph(1), s.ph(2)),
		s.tenantID, planID,
	)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return plan.Plan{}, ErrNotFound
		}
		return plan.Plan{}, err
	}
	return plan.UnmarshalPlan([]byte(payload))
}

// UpdatePlanApprovals re-persists the plan after an approval is appended or
// auto_approved is flipped — the only mutation a Plan ever undergoes.
func (s *Store) UpdatePlanApprovals(ctx context.Context, p plan.Plan) error {
	payload, err := p.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE plans SET plan_json = %s WHERE tenant_id = %s AND plan_id = %s", s.ph(1), s.ph(2), s.ph(3)),
		string(payload), s.tenantID, p.PlanID,
	)
	if err != nil {
		return err
	}
	return s.checkAffected(res)
}

// --- RunRecord -----------------------------------------------------------

// RunStatus mirrors the RunRecord lifecycle states.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSuccess   RunStatus = "SUCCESS"
	RunFail      RunStatus = "FAIL"
	RunCancelled RunStatus = "CANCELLED"
)

// RunRecord is the persisted outcome of one step execution.
type RunRecord struct {
	RunID         string
	PlanID        string
	StepID        string
	ModelName     string
	Status        RunStatus
	StartedAt     *time.Time
	FinishedAt    *time.Time
	ExternalRunID string
	ErrorMessage  string
	LogsURI       string
	CostUSD       float64
}

// InsertRun creates a new run record with the status and fields set on r.
func (s *Store) InsertRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(
			"INSERT INTO run_records (tenant_id, run_id, plan_id, step_id, model_name, status, started_at, finished_at, external_run_id, error_message, logs_uri, cost_usd) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)",
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11), s.ph(12),
		),
		s.tenantID, r.RunID, r.PlanID, r.StepID, r.ModelName, string(r.Status),
		formatNullableTime(r.StartedAt), formatNullableTime(r.FinishedAt), r.ExternalRunID, r.ErrorMessage, r.LogsURI, r.CostUSD,
	)
	return err
}

// UpdateRunStatus transitions a run record's status and terminal fields.
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status RunStatus, finishedAt *time.Time, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE run_records SET status = %s, finished_at = %s, error_message = %s WHERE tenant_id = %s AND run_id = %s",
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5)),
		string(status), formatNullableTime(finishedAt), errMsg, s.tenantID, runID,
	)
	if err != nil {
		return err
	}
	return s.checkAffected(res)
}

// ListRunsForPlan returns every run recorded against planID.
func (s *Store) ListRunsForPlan(ctx context.Context, planID string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT run_id, plan_id, step_id, model_name, status, started_at, finished_at, external_run_id, error_message, logs_uri, cost_usd FROM run_records WHERE tenant_id = %s AND plan_id = %s", s.ph(1), s.ph(2)),
		s.tenantID, planID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r                    RunRecord
			status               string
			startedAt, finishedAt sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.PlanID, &r.StepID, &r.ModelName, &status, &startedAt, &finishedAt, &r.ExternalRunID, &r.ErrorMessage, &r.LogsURI, &r.CostUSD); err != nil {
			return nil, err
		}
		r.Status = RunStatus(status)
		r.StartedAt = parseNullableTime(startedAt)
		r.FinishedAt = parseNullableTime(finishedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunsByStatus returns every run recorded for the bound tenant in the
// given status, used to seed a reconciliation pass.
func (s *Store) ListRunsByStatus(ctx context.Context, status RunStatus) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT run_id, plan_id, step_id, model_name, status, started_at, finished_at, external_run_id, error_message, logs_uri, cost_usd FROM run_records WHERE tenant_id = %s AND status = %s", s.ph(1), s.ph(2)),
		s.tenantID, string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r                      RunRecord
			statusStr              string
			startedAt, finishedAt  sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.PlanID, &r.StepID, &r.ModelName, &statusStr, &startedAt, &finishedAt, &r.ExternalRunID, &r.ErrorMessage, &r.LogsURI, &r.CostUSD); err != nil {
			return nil, err
		}
		r.Status = RunStatus(statusStr)
		r.StartedAt = parseNullableTime(startedAt)
		r.FinishedAt = parseNullableTime(finishedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Watermark -----------------------------------------------------------

// GetWatermark returns the current watermark for a model, or zero values
// with ErrNotFound when none has ever been recorded.
func (s *Store) GetWatermark(ctx context.Context, modelName string) (start, end string, err error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT partition_start, partition_end FROM watermarks WHERE tenant_id = %s AND model_name = %s", s.ph(1), s.ph(2)),
		s.tenantID, modelName,
	)
	if err := row.Scan(&start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrNotFound
		}
		return "", "", err
	}
	return start, end, nil
}

// AdvanceWatermark upserts the watermark after a successful incremental run.
func (s *Store) AdvanceWatermark(ctx context.Context, modelName, start, end string) error {
	columns := []string{"tenant_id", "model_name", "partition_start", "partition_end"}
	query := s.upsert.BuildUpsert("watermarks", columns, []string{"tenant_id", "model_name"})
	_, err := s.db.ExecContext(ctx, query, s.tenantID, modelName, start, end)
	return err
}

// --- TenantConfig --------------------------------------------------------

// TenantConfig is the per-tenant override row.
type TenantConfig struct {
	LLMEnabled          bool
	LLMDailyBudgetUSD   *float64
	LLMMonthlyBudgetUSD *float64
	PlanQuotaMonthly    *int
	AIQuotaMonthly      *int
	APIQuotaMonthly     *int
	MaxSeats            *int
	MaxModels           *int
	DeactivatedAt       *time.Time
}

// GetTenantConfig returns the config row for the bound tenant, or the zero
// value with ErrNotFound when none has been created.
func (s *Store) GetTenantConfig(ctx context.Context) (TenantConfig, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT llm_enabled, llm_daily_budget_usd, llm_monthly_budget_usd, plan_quota_monthly, ai_quota_monthly, api_quota_monthly, max_seats, max_models, deactivated_at FROM tenant_configs WHERE tenant_id = %s", s.ph(1)),
		s.tenantID,
	)
	var (
		cfg          TenantConfig
		llmEnabled   int
		deactivated  sql.NullString
		dailyBudget, monthlyBudget sql.NullFloat64
		planQ, aiQ, apiQ, seats, models sql.NullInt64
	)
	if err := row.Scan(&llmEnabled, &dailyBudget, &monthlyBudget, &planQ, &aiQ, &apiQ, &seats, &models, &deactivated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TenantConfig{}, ErrNotFound
		}
		return TenantConfig{}, err
	}
	cfg.LLMEnabled = llmEnabled != 0
	cfg.LLMDailyBudgetUSD = nullFloatPtr(dailyBudget)
	cfg.LLMMonthlyBudgetUSD = nullFloatPtr(monthlyBudget)
	cfg.PlanQuotaMonthly = nullIntPtr(planQ)
	cfg.AIQuotaMonthly = nullIntPtr(aiQ)
	cfg.APIQuotaMonthly = nullIntPtr(apiQ)
	cfg.MaxSeats = nullIntPtr(seats)
	cfg.MaxModels = nullIntPtr(models)
	cfg.DeactivatedAt = parseNullableTime(deactivated)
	return cfg, nil
}

// UpsertTenantConfig creates or replaces the bound tenant's config row.
func (s *Store) UpsertTenantConfig(ctx context.Context, cfg TenantConfig) error {
	columns := []string{"tenant_id", "llm_enabled", "llm_daily_budget_usd", "llm_monthly_budget_usd", "plan_quota_monthly", "ai_quota_monthly", "api_quota_monthly", "max_seats", "max_models", "deactivated_at"}
	query := s.upsert.BuildUpsert("tenant_configs", columns, []string{"tenant_id"})
	llmEnabled := 0
	if cfg.LLMEnabled {
		llmEnabled = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		s.tenantID, llmEnabled, cfg.LLMDailyBudgetUSD, cfg.LLMMonthlyBudgetUSD,
		cfg.PlanQuotaMonthly, cfg.AIQuotaMonthly, cfg.APIQuotaMonthly, cfg.MaxSeats, cfg.MaxModels,
		formatNullableTime(cfg.DeactivatedAt),
	)
	return err
}

// DeactivateTenant soft-deletes the bound tenant's config by stamping
// deactivated_at.
func (s *Store) DeactivateTenant(ctx context.Context, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE tenant_configs SET deactivated_at = %s WHERE tenant_id = %s", s.ph(1), s.ph(2)),
		at.UTC().Format(time.RFC3339Nano), s.tenantID,
	)
	if err != nil {
		return err
	}
	return s.checkAffected(res)
}

// --- TokenRevocation (implements revocation.Store) ----------------------

// RevokeToken inserts a revocation record. Insert rather than upsert: a
// token is revoked once and the reason should not silently change.
func (s *Store) RevokeToken(ctx context.Context, jti, reason string, revokedAt, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO token_revocations (jti, reason, revoked_at, expires_at) VALUES (%s, %s, %s, %s)",
			s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
		jti, reason, revokedAt.UTC().Format(time.RFC3339Nano), expiresAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// IsRevoked implements revocation.Store: it reports whether jti has an
// unexpired revocation row.
func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT expires_at FROM token_revocations WHERE jti = %s", s.ph(1)),
		jti,
	)
	var expiresAt string
	if err := row.Scan(&expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	exp, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return false, err
	}
	return time.Now().Before(exp), nil
}

// --- MeteringEvent (implements metering.Sink) ----------------------------

// Flush implements metering.Sink: it persists a drained batch of events.
func (s *Store) Flush(ctx context.Context, events []metering.Event) error {
	for _, ev := range events {
		metadata, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", ev.EventID, err)
		}
		_, err = s.db.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO metering_events (event_id, tenant_id, event_type, quantity, cost_usd, metadata_json, recorded_at) VALUES (%s, %s, %s, %s, %s, %s, %s)",
				s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7)),
			ev.EventID, ev.TenantID, string(ev.EventType), ev.Quantity, ev.CostUSD, string(metadata), ev.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert metering event %s: %w", ev.EventID, err)
		}
	}
	return nil
}

// CountEventsSince counts metering events of eventType recorded for the
// bound tenant at or after since. UsageAdapter composes this with
// auth.UserStore.ActiveSeatCount into a full quota.UsageReader.
func (s *Store) CountEventsSince(ctx context.Context, eventType string, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM metering_events WHERE tenant_id = %s AND event_type = %s AND recorded_at >= %s", s.ph(1), s.ph(2), s.ph(3)),
		s.tenantID, eventType, since.UTC().Format(time.RFC3339Nano),
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SumCostSince totals cost_usd across metering events of eventType recorded
// for the bound tenant at or after since (AI_CALL for LLM budget
// enforcement).
func (s *Store) SumCostSince(ctx context.Context, eventType string, since time.Time) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(SUM(cost_usd), 0) FROM metering_events WHERE tenant_id = %s AND event_type = %s AND recorded_at >= %s", s.ph(1), s.ph(2), s.ph(3)),
		s.tenantID, eventType, since.UTC().Format(time.RFC3339Nano),
	)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// CountModels returns the number of models registered for the bound
// tenant, used by quota.UsageReader.ModelCount.
func (s *Store) CountModels(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM model_definitions WHERE tenant_id = %s", s.ph(1)),
		s.tenantID,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// --- BillingCustomer -------------------------------------------------

// BillingCustomer links the bound tenant to its Stripe customer and tracks
// the currently effective subscription tier.
type BillingCustomer struct {
	TenantID             string
	StripeCustomerID     string
	StripeSubscriptionID string
	PlanTier             string
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
}

// UpsertBillingCustomer creates or replaces the bound tenant's billing row.
func (s *Store) UpsertBillingCustomer(ctx context.Context, c BillingCustomer) error {
	columns := []string{"tenant_id", "stripe_customer_id", "stripe_subscription_id", "plan_tier", "period_start", "period_end"}
	query := s.upsert.BuildUpsert("billing_customers", columns, []string{"tenant_id"})
	_, err := s.db.ExecContext(ctx, query,
		s.tenantID, c.StripeCustomerID, c.StripeSubscriptionID, c.PlanTier,
		formatNullableTime(c.PeriodStart), formatNullableTime(c.PeriodEnd),
	)
	return err
}

// GetBillingCustomer returns the bound tenant's billing row.
func (s *Store) GetBillingCustomer(ctx context.Context) (BillingCustomer, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT tenant_id, stripe_customer_id, stripe_subscription_id, plan_tier, period_start, period_end FROM billing_customers WHERE tenant_id = %s", s.ph(1)),
		s.tenantID,
	)
	var (
		c                          BillingCustomer
		subID                      sql.NullString
		periodStart, periodEnd     sql.NullString
	)
	if err := row.Scan(&c.TenantID, &c.StripeCustomerID, &subID, &c.PlanTier, &periodStart, &periodEnd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BillingCustomer{}, ErrNotFound
		}
		return BillingCustomer{}, err
	}
	c.StripeSubscriptionID = subID.String
	c.PeriodStart = parseNullableTime(periodStart)
	c.PeriodEnd = parseNullableTime(periodEnd)
	return c, nil
}

// --- WebhookConfig ---------------------------------------------------------

// WebhookConfigRow is a persisted webhook config, scoped to the bound
// tenant on write and read.
type WebhookConfigRow struct {
	ID              string
	TenantID        string
	Provider        string
	RepoURL         string
	Branch          string
	SecretHash      string
	SecretEncrypted []byte
	AutoPlan        bool
	AutoApply       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateWebhookConfig inserts a new webhook config row under id (caller-
// generated, matching every other Store method's convention of taking IDs
// rather than minting them) and returns its creation timestamp.
func (s *Store) CreateWebhookConfig(ctx context.Context, id string, row WebhookConfigRow) (createdAt time.Time, err error) {
	createdAt = time.Now().UTC()
	autoPlan, autoApply := boolToInt(row.AutoPlan), boolToInt(row.AutoApply)
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO webhook_configs (tenant_id, id, provider, repo_url, branch, secret_hash, secret_encrypted, auto_plan, auto_apply, created_at, updated_at) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)",
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11)),
		s.tenantID, id, row.Provider, row.RepoURL, row.Branch, row.SecretHash, row.SecretEncrypted,
		autoPlan, autoApply, createdAt.Format(time.RFC3339Nano), createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return time.Time{}, err
	}
	return createdAt, nil
}

// ListWebhookConfigs returns every webhook config for the bound tenant.
// Secrets are included here (the tenant-scoped Store layer is trusted
// internal plumbing); internal/webhook.ListConfigs is what strips them
// before the HTTP response, matching the original service's
// never-list-secrets behavior.
func (s *Store) ListWebhookConfigs(ctx context.Context) ([]WebhookConfigRow, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT tenant_id, id, provider, repo_url, branch, secret_hash, secret_encrypted, auto_plan, auto_apply, created_at, updated_at FROM webhook_configs WHERE tenant_id = %s ORDER BY created_at ASC", s.ph(1)),
		s.tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []WebhookConfigRow
	for rows.Next() {
		row, err := scanWebhookConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, row)
	}
	return configs, rows.Err()
}

// DeleteWebhookConfig removes a webhook config owned by the bound tenant.
func (s *Store) DeleteWebhookConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM webhook_configs WHERE tenant_id = %s AND id = %s", s.ph(1), s.ph(2)),
		s.tenantID, id,
	)
	if err != nil {
		return err
	}
	return s.checkAffected(res)
}

func scanWebhookConfig(row scannable) (WebhookConfigRow, error) {
	var (
		cfg                WebhookConfigRow
		autoPlan, autoApply int
		createdAt, updatedAt string
	)
	if err := row.Scan(&cfg.TenantID, &cfg.ID, &cfg.Provider, &cfg.RepoURL, &cfg.Branch, &cfg.SecretHash, &cfg.SecretEncrypted, &autoPlan, &autoApply, &createdAt, &updatedAt); err != nil {
		return WebhookConfigRow{}, err
	}
	cfg.AutoPlan = autoPlan != 0
	cfg.AutoApply = autoApply != 0
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return WebhookConfigRow{}, err
	}
	cfg.CreatedAt = t
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		cfg.UpdatedAt = t
	}
	return cfg, nil
}

// FindWebhookConfigByRepoAndBranch resolves the tenant-owning webhook
// config for a repo URL + branch, across every tenant — a webhook arrives
// with no tenant context of its own, so this is the same deliberate
// cross-tenant exception as LookupTenantByStripeCustomerID.
func FindWebhookConfigByRepoAndBranch(ctx context.Context, db *sql.DB, dialect Dialect, repoURL, branch string) (WebhookConfigRow, error) {
	upsert, err := UpserterFor(dialect)
	if err != nil {
		return WebhookConfigRow{}, err
	}
	row := db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT tenant_id, id, provider, repo_url, branch, secret_hash, secret_encrypted, auto_plan, auto_apply, created_at, updated_at FROM webhook_configs WHERE repo_url = %s AND branch = %s",
			upsert.Placeholder(1), upsert.Placeholder(2)),
		repoURL, branch,
	)
	cfg, err := scanWebhookConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WebhookConfigRow{}, ErrNotFound
		}
		return WebhookConfigRow{}, err
	}
	return cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- ReconciliationSchedule ----------------------------------------------

// ReconciliationSchedule is a persisted periodic reconciliation schedule,
// owned by one tenant. It mirrors reconcile.Schedule field-for-field; kept
// as a separate type so this package stays independent of internal/reconcile
// and the caller (cmd/ironlayerd) converts between the two.
type ReconciliationSchedule struct {
	ScheduleID string
	TenantID   string
	CronExpr   string
	Enabled    bool
	NextRunAt  time.Time
	LastRunAt  *time.Time
}

// CreateReconciliationSchedule inserts a new schedule for the bound tenant.
func (s *Store) CreateReconciliationSchedule(ctx context.Context, scheduleID, cronExpr string, enabled bool, nextRunAt time.Time) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO reconciliation_schedules (tenant_id, schedule_id, cron_expr, enabled, next_run_at, last_run_at) VALUES (%s, %s, %s, %s, %s, %s)",
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6)),
		s.tenantID, scheduleID, cronExpr, enabledInt, nextRunAt.UTC().Format(time.RFC3339Nano), nil,
	)
	return err
}

// ListReconciliationSchedules returns every schedule owned by the bound
// tenant.
func (s *Store) ListReconciliationSchedules(ctx context.Context) ([]ReconciliationSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT tenant_id, schedule_id, cron_expr, enabled, next_run_at, last_run_at FROM reconciliation_schedules WHERE tenant_id = %s ORDER BY schedule_id ASC", s.ph(1)),
		s.tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []ReconciliationSchedule
	for rows.Next() {
		sched, err := scanReconciliationSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// DeleteReconciliationSchedule removes a schedule owned by the bound tenant.
func (s *Store) DeleteReconciliationSchedule(ctx context.Context, scheduleID string) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM reconciliation_schedules WHERE tenant_id = %s AND schedule_id = %s", s.ph(1), s.ph(2)),
		s.tenantID, scheduleID,
	)
	if err != nil {
		return err
	}
	return s.checkAffected(res)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReconciliationSchedule(row scannable) (ReconciliationSchedule, error) {
	var (
		sched      ReconciliationSchedule
		enabledInt int
		nextRunAt  string
		lastRunAt  sql.NullString
	)
	if err := row.Scan(&sched.TenantID, &sched.ScheduleID, &sched.CronExpr, &enabledInt, &nextRunAt, &lastRunAt); err != nil {
		return ReconciliationSchedule{}, err
	}
	sched.Enabled = enabledInt != 0
	next, err := time.Parse(time.RFC3339Nano, nextRunAt)
	if err != nil {
		return ReconciliationSchedule{}, err
	}
	sched.NextRunAt = next
	sched.LastRunAt = parseNullableTime(lastRunAt)
	return sched, nil
}

// ScheduleStore reads and updates reconciliation schedules across every
// tenant in one pass. It is the scheduler's cross-tenant exception to this
// package's tenant-scoped-by-construction rule, mirroring
// LookupTenantByStripeCustomerID: reconcile.Scheduler has no tenant context
// of its own — it wakes on a ticker and must discover which tenants have a
// schedule due right now.
type ScheduleStore struct {
	db     *sql.DB
	upsert Upserter
}

// NewScheduleStore builds a ScheduleStore over an already-open *sql.DB. It
// does not run migrations — callers are expected to have already opened at
// least one tenant-scoped Store, which creates reconciliation_schedules.
func NewScheduleStore(db *sql.DB, dialect Dialect) (*ScheduleStore, error) {
	upsert, err := UpserterFor(dialect)
	if err != nil {
		return nil, err
	}
	return &ScheduleStore{db: db, upsert: upsert}, nil
}

// DueSchedules returns every enabled schedule, across all tenants, whose
// next_run_at has passed.
func (s *ScheduleStore) DueSchedules(ctx context.Context, now time.Time) ([]ReconciliationSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT tenant_id, schedule_id, cron_expr, enabled, next_run_at, last_run_at FROM reconciliation_schedules WHERE enabled = 1 AND next_run_at <= %s", s.upsert.Placeholder(1)),
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []ReconciliationSchedule
	for rows.Next() {
		sched, err := scanReconciliationSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// UpdateScheduleRun stamps a schedule's last/next run timestamps after a
// tick processes it. scheduleID alone identifies the row across tenants
// since schedule IDs are UUIDs, not tenant-scoped sequence numbers.
func (s *ScheduleStore) UpdateScheduleRun(ctx context.Context, scheduleID string, lastRun, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE reconciliation_schedules SET last_run_at = %s, next_run_at = %s WHERE schedule_id = %s",
			s.upsert.Placeholder(1), s.upsert.Placeholder(2), s.upsert.Placeholder(3)),
		lastRun.UTC().Format(time.RFC3339Nano), nextRun.UTC().Format(time.RFC3339Nano), scheduleID,
	)
	return err
}

// LookupTenantByStripeCustomerID resolves a tenant from a Stripe customer
// ID without a tenant already bound — the one deliberate exception to this
// package's tenant-scoped-by-construction rule, needed because an inbound
// Stripe webhook arrives with no tenant context of its own.
func LookupTenantByStripeCustomerID(ctx context.Context, db *sql.DB, dialect Dialect, stripeCustomerID string) (string, error) {
	upsert, err := UpserterFor(dialect)
	if err != nil {
		return "", err
	}
	row := db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT tenant_id FROM billing_customers WHERE stripe_customer_id = %s", upsert.Placeholder(1)),
		stripeCustomerID,
	)
	var tenantID string
	if err := row.Scan(&tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return tenantID, nil
}

// --- Environment -----------------------------------------------------------

// EnvironmentRow is a persisted environment, scoped to the bound tenant on
// write and read. Ephemeral (PR-preview) rows carry PRNumber/BranchName/
// ExpiresAt; standard environments leave them zero.
type EnvironmentRow struct {
	Name         string
	Catalog      string
	SchemaPrefix string
	IsDefault    bool
	IsProduction bool
	IsEphemeral  bool
	PRNumber     *int
	BranchName   string
	ExpiresAt    *time.Time
	CreatedBy    string
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateEnvironment inserts a new environment row for the bound tenant.
func (s *Store) CreateEnvironment(ctx context.Context, row EnvironmentRow) (EnvironmentRow, error) {
	now := time.Now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO environments (tenant_id, name, catalog, schema_prefix, is_default, is_production, is_ephemeral, pr_number, branch_name, expires_at, created_by, deleted_at, created_at, updated_at) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)",
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11), s.ph(12), s.ph(13), s.ph(14)),
		s.tenantID, row.Name, row.Catalog, row.SchemaPrefix,
		boolToInt(row.IsDefault), boolToInt(row.IsProduction), boolToInt(row.IsEphemeral),
		row.PRNumber, nullableString(row.BranchName), formatNullableTime(row.ExpiresAt), row.CreatedBy,
		formatNullableTime(row.DeletedAt), row.CreatedAt.Format(time.RFC3339Nano), row.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return EnvironmentRow{}, err
	}
	return row, nil
}

// GetEnvironment fetches a non-deleted environment by name within the bound
// tenant.
func (s *Store) GetEnvironment(ctx context.Context, name string) (EnvironmentRow, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT name, catalog, schema_prefix, is_default, is_production, is_ephemeral, pr_number, branch_name, expires_at, created_by, deleted_at, created_at, updated_at FROM environments WHERE tenant_id = %s AND name = %s AND deleted_at IS NULL", s.ph(1), s.ph(2)),
		s.tenantID, name,
	)
	env, err := scanEnvironment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EnvironmentRow{}, ErrNotFound
		}
		return EnvironmentRow{}, err
	}
	return env, nil
}

// ListEnvironments returns every non-deleted environment for the bound
// tenant, ordered by name.
func (s *Store) ListEnvironments(ctx context.Context) ([]EnvironmentRow, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT name, catalog, schema_prefix, is_default, is_production, is_ephemeral, pr_number, branch_name, expires_at, created_by, deleted_at, created_at, updated_at FROM environments WHERE tenant_id = %s AND deleted_at IS NULL ORDER BY name ASC", s.ph(1)),
		s.tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envs []EnvironmentRow
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

// SoftDeleteEnvironment stamps deleted_at on a non-deleted environment owned
// by the bound tenant.
func (s *Store) SoftDeleteEnvironment(ctx context.Context, name string, deletedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE environments SET deleted_at = %s, updated_at = %s WHERE tenant_id = %s AND name = %s AND deleted_at IS NULL", s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
		deletedAt.UTC().Format(time.RFC3339Nano), deletedAt.UTC().Format(time.RFC3339Nano), s.tenantID, name,
	)
	if err != nil {
		return err
	}
	return s.checkAffected(res)
}

// CleanupExpiredEnvironments soft-deletes every ephemeral environment owned
// by the bound tenant whose expires_at has passed, returning the count
// removed.
func (s *Store) CleanupExpiredEnvironments(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE environments SET deleted_at = %s, updated_at = %s WHERE tenant_id = %s AND is_ephemeral = 1 AND deleted_at IS NULL AND expires_at IS NOT NULL AND expires_at <= %s",
			s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
		now.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano), s.tenantID, now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanEnvironment(row scannable) (EnvironmentRow, error) {
	var (
		env                                       EnvironmentRow
		isDefault, isProduction, isEphemeral       int
		prNumber                                  sql.NullInt64
		branchName                                sql.NullString
		expiresAt, deletedAt, createdAt, updatedAt sql.NullString
	)
	if err := row.Scan(&env.Name, &env.Catalog, &env.SchemaPrefix, &isDefault, &isProduction, &isEphemeral,
		&prNumber, &branchName, &expiresAt, &env.CreatedBy, &deletedAt, &createdAt, &updatedAt); err != nil {
		return EnvironmentRow{}, err
	}
	env.IsDefault = isDefault != 0
	env.IsProduction = isProduction != 0
	env.IsEphemeral = isEphemeral != 0
	if prNumber.Valid {
		n := int(prNumber.Int64)
		env.PRNumber = &n
	}
	env.BranchName = branchName.String
	env.ExpiresAt = parseNullableTime(expiresAt)
	env.DeletedAt = parseNullableTime(deletedAt)
	if t := parseNullableTime(createdAt); t != nil {
		env.CreatedAt = *t
	}
	if t := parseNullableTime(updatedAt); t != nil {
		env.UpdatedAt = *t
	}
	return env, nil
}

// --- EnvironmentPromotion ----------------------------------------------

// EnvironmentPromotionRow is a persisted promotion record: a snapshot
// carried from one environment to another within the bound tenant.
type EnvironmentPromotionRow struct {
	ID                string
	SourceEnvironment string
	TargetEnvironment string
	SourceSnapshotID  string
	TargetSnapshotID  string
	PromotedBy        string
	PromotedAt        time.Time
	MetadataJSON      string
}

// CreateEnvironmentPromotion records a promotion event for the bound tenant.
func (s *Store) CreateEnvironmentPromotion(ctx context.Context, row EnvironmentPromotionRow) (EnvironmentPromotionRow, error) {
	row.PromotedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO environment_promotions (tenant_id, id, source_environment, target_environment, source_snapshot_id, target_snapshot_id, promoted_by, promoted_at, metadata_json) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)",
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9)),
		s.tenantID, row.ID, row.SourceEnvironment, row.TargetEnvironment, row.SourceSnapshotID, row.TargetSnapshotID,
		row.PromotedBy, row.PromotedAt.Format(time.RFC3339Nano), nullableString(row.MetadataJSON),
	)
	if err != nil {
		return EnvironmentPromotionRow{}, err
	}
	return row, nil
}

// ListEnvironmentPromotions returns the bound tenant's promotion history,
// most recent first, optionally filtered to promotions where
// environmentName was either the source or the target.
func (s *Store) ListEnvironmentPromotions(ctx context.Context, environmentName string, limit int) ([]EnvironmentPromotionRow, error) {
	query := "SELECT id, source_environment, target_environment, source_snapshot_id, target_snapshot_id, promoted_by, promoted_at, metadata_json FROM environment_promotions WHERE tenant_id = " + s.ph(1)
	args := []any{s.tenantID}
	if environmentName != "" {
		query += fmt.Sprintf(" AND (source_environment = %s OR target_environment = %s)", s.ph(2), s.ph(3))
		args = append(args, environmentName, environmentName)
	}
	query += fmt.Sprintf(" ORDER BY promoted_at DESC LIMIT %s", s.ph(len(args)+1))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var promotions []EnvironmentPromotionRow
	for rows.Next() {
		var (
			p            EnvironmentPromotionRow
			promotedAt   string
			metadataJSON sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.SourceEnvironment, &p.TargetEnvironment, &p.SourceSnapshotID, &p.TargetSnapshotID,
			&p.PromotedBy, &promotedAt, &metadataJSON); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, promotedAt); err == nil {
			p.PromotedAt = t
		}
		p.MetadataJSON = metadataJSON.String
		promotions = append(promotions, p)
	}
	return promotions, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- helpers ---------------------------------------------------------

func (s *Store) ph(pos int) string { return s.upsert.Placeholder(pos) }

func (s *Store) checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/ironlayer/ironlayer/internal/metering"
	"github.com/ironlayer/ironlayer/internal/model"
	"github.com/ironlayer/ironlayer/internal/plan"

	_ "modernc.org/sqlite"
)

func openStore(t *testing.T, tenantID string) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ironlayer.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := New(context.Background(), db, DialectSQLite, tenantID)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestUpsertAndGetModel(t *testing.T) {
	s := openStore(t, "tenant-a")
	ctx := context.Background()

	def := model.Definition{
		TenantID:    "tenant-a",
		Name:        "staging.orders",
		Kind:        model.KindFullRefresh,
		ContentHash: "abc123",
	}
	if err := s.UpsertModel(ctx, def); err != nil {
		t.Fatalf("UpsertModel: %v", err)
	}

	got, err := s.GetModel(ctx, "staging.orders")
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got.ContentHash != "abc123" {
		t.Fatalf("ContentHash = %q, want abc123", got.ContentHash)
	}

	// Upsert again with a changed hash — must replace, not duplicate.
	def.ContentHash = "def456"
	if err := s.UpsertModel(ctx, def); err != nil {
		t.Fatalf("second UpsertModel: %v", err)
	}
	models, err := s.ListModels(ctx)
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("len(models) = %d, want 1 (upsert should replace)", len(models))
	}
	if models[0].ContentHash != "def456" {
		t.Fatalf("ContentHash after re-upsert = %q, want def456", models[0].ContentHash)
	}
}

func TestModelsAreTenantIsolated(t *testing.T) {
	sA := openStore(t, "tenant-a")
	ctx := context.Background()

	if err := sA.UpsertModel(ctx, model.Definition{Name: "staging.orders", ContentHash: "a"}); err != nil {
		t.Fatalf("UpsertModel: %v", err)
	}

	sB := sA.WithTenant("tenant-b")
	_, err := sB.GetModel(ctx, "staging.orders")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound (tenant-b must not see tenant-a's model)", err)
	}
}

func TestInsertAndGetPlan(t *testing.T) {
	s := openStore(t, "tenant-a")
	ctx := context.Background()

	p := plan.Plan{
		PlanID: "a1b2c3",
		Base:   "deadbeef",
		Target: "cafebabe",
	}
	if err := s.InsertPlan(ctx, p, time.Now()); err != nil {
		t.Fatalf("InsertPlan: %v", err)
	}

	got, err := s.GetPlan(ctx, "a1b2c3")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.Base != "deadbeef" || got.Target != "cafebabe" {
		t.Fatalf("unexpected plan: %+v", got)
	}
}

func TestPlanApprovalsUpdateInPlace(t *testing.T) {
	s := openStore(t, "tenant-a")
	ctx := context.Background()

	p := plan.Plan{PlanID: "p1", Base: "aaaa", Target: "bbbb"}
	if err := s.InsertPlan(ctx, p, time.Now()); err != nil {
		t.Fatalf("InsertPlan: %v", err)
	}

	p.Approvals = []plan.Approval{{UserID: "u1", Comment: "looks good"}}
	p.AutoApproved = false
	if err := s.UpdatePlanApprovals(ctx, p); err != nil {
		t.Fatalf("UpdatePlanApprovals: %v", err)
	}

	got, err := s.GetPlan(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if len(got.Approvals) != 1 || got.Approvals[0].UserID != "u1" {
		t.Fatalf("unexpected approvals after update: %+v", got.Approvals)
	}
}

func TestRunRecordLifecycle(t *testing.T) {
	s := openStore(t, "tenant-a")
	ctx := context.Background()

	run := RunRecord{RunID: "run-1", PlanID: "p1", StepID: "step-1", ModelName: "staging.orders", Status: RunPending}
	if err := s.InsertRun(ctx, run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	finished := time.Now()
	if err := s.UpdateRunStatus(ctx, "run-1", RunSuccess, &finished, ""); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}

	runs, err := s.ListRunsForPlan(ctx, "p1")
	if err != nil {
		t.Fatalf("ListRunsForPlan: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != RunSuccess {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestUpdateRunStatusReturnsNotFoundForUnknownRun(t *testing.T) {
	s := openStore(t, "tenant-a")
	err := s.UpdateRunStatus(context.Background(), "missing-run", RunFail, nil, "boom")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestWatermarkAdvanceAndGet(t *testing.T) {
	s := openStore(t, "tenant-a")
	ctx := context.Background()

	_, _, err := s.GetWatermark(ctx, "m")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before first watermark, got %v", err)
	}

	if err := s.AdvanceWatermark(ctx, "m", "2025-05-01", "2025-05-15"); err != nil {
		t.Fatalf("AdvanceWatermark: %v", err)
	}
	start, end, err := s.GetWatermark(ctx, "m")
	if err != nil {
		t.Fatalf("GetWatermark: %v", err)
	}
	if start != "2025-05-01" || end != "2025-05-15" {
		t.Fatalf("watermark = (%s, %s), want (2025-05-01, 2025-05-15)", start, end)
	}

	if err := s.AdvanceWatermark(ctx, "m", "2025-05-15", "2025-06-01"); err != nil {
		t.Fatalf("second AdvanceWatermark: %v", err)
	}
	start, end, err = s.GetWatermark(ctx, "m")
	if err != nil {
		t.Fatalf("GetWatermark after advance: %v", err)
	}
	if start != "2025-05-15" || end != "2025-06-01" {
		t.Fatalf("watermark after advance = (%s, %s), want (2025-05-15, 2025-06-01)", start, end)
	}
}

func TestTenantConfigUpsertAndDeactivate(t *testing.T) {
	s := openStore(t, "tenant-a")
	ctx := context.Background()

	seats := 5
	if err := s.UpsertTenantConfig(ctx, TenantConfig{LLMEnabled: true, MaxSeats: &seats}); err != nil {
		t.Fatalf("UpsertTenantConfig: %v", err)
	}
	cfg, err := s.GetTenantConfig(ctx)
	if err != nil {
		t.Fatalf("GetTenantConfig: %v", err)
	}
	if !cfg.LLMEnabled || cfg.MaxSeats == nil || *cfg.MaxSeats != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if err := s.DeactivateTenant(ctx, time.Now()); err != nil {
		t.Fatalf("DeactivateTenant: %v", err)
	}
	cfg, err = s.GetTenantConfig(ctx)
	if err != nil {
		t.Fatalf("GetTenantConfig after deactivate: %v", err)
	}
	if cfg.DeactivatedAt == nil {
		t.Fatalf("expected DeactivatedAt to be set")
	}
}

func TestTokenRevocationRoundTrip(t *testing.T) {
	s := openStore(t, "tenant-a")
	ctx := context.Background()

	revoked, err := s.IsRevoked(ctx, "jti-unknown")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Fatalf("unknown jti should not be revoked")
	}

	now := time.Now()
	if err := s.RevokeToken(ctx, "jti-1", "compromised", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	revoked, err = s.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Fatalf("jti-1 should be revoked")
	}
}

func TestTokenRevocationExpiresOut(t *testing.T) {
	s := openStore(t, "tenant-a")
	ctx := context.Background()

	now := time.Now()
	if err := s.RevokeToken(ctx, "jti-2", "rotated", now.Add(-2*time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	revoked, err := s.IsRevoked(ctx, "jti-2")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Fatalf("jti-2's revocation already expired, should not be reported revoked")
	}
}

func TestMeteringFlushAndCount(t *testing.T) {
	s := openStore(t, "tenant-a")
	ctx := context.Background()

	events := []metering.Event{
		{EventID: "evt-1", TenantID: "tenant-a", EventType: metering.EventPlanRun, Quantity: 1, Timestamp: time.Now()},
		{EventID: "evt-2", TenantID: "tenant-a", EventType: metering.EventPlanRun, Quantity: 1, Timestamp: time.Now()},
	}
	if err := s.Flush(ctx, events); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	count, err := s.CountEventsSince(ctx, string(metering.EventPlanRun), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountEventsSince: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

package environment

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/ironlayer/ironlayer/internal/repository"

	_ "modernc.org/sqlite"
)

func openTestService(t *testing.T) (*Service, string) {
	svc, _, tenantID := openTestServiceWithDB(t)
	return svc, tenantID
}

func openTestServiceWithDB(t *testing.T) (*Service, *sql.DB, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "environment.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	const tenantID = "tenant-a"
	if _, err := repository.New(context.Background(), db, repository.DialectSQLite, tenantID); err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	return NewService(db, repository.DialectSQLite), db, tenantID
}

func TestCreateEnvironmentReturnsStandardFields(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	env, err := svc.CreateEnvironment(ctx, tenantID, "staging", "dev", "stg", false, "admin")
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	if env.Name != "staging" || env.Catalog != "dev" || env.SchemaPrefix != "stg" {
		t.Fatalf("unexpected environment: %+v", env)
	}
	if env.IsEphemeral {
		t.Fatalf("standard environment should not be ephemeral")
	}
}

func TestCreateEnvironmentProductionFlag(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	env, err := svc.CreateEnvironment(ctx, tenantID, "prod", "prod_catalog", "analytics", true, "admin")
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	if !env.IsProduction {
		t.Fatalf("IsProduction = false, want true")
	}
}

func TestCreateEphemeralEnvironmentWithTTL(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	env, err := svc.CreateEphemeralEnvironment(ctx, tenantID, 42, "feature/new-model", "dev", "pr_42", "ci-bot", 48)
	if err != nil {
		t.Fatalf("CreateEphemeralEnvironment: %v", err)
	}
	if !env.IsEphemeral {
		t.Fatalf("IsEphemeral = false, want true")
	}
	if env.PRNumber == nil || *env.PRNumber != 42 {
		t.Fatalf("PRNumber = %v, want 42", env.PRNumber)
	}
	if env.BranchName != "feature/new-model" {
		t.Fatalf("BranchName = %q, want feature/new-model", env.BranchName)
	}
	if env.ExpiresAt == nil {
		t.Fatalf("ExpiresAt = nil, want set")
	}
	if env.Name != "pr-42" {
		t.Fatalf("Name = %q, want pr-42", env.Name)
	}
}

func TestCreateEphemeralEnvironmentDefaultsTTLToOneDay(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	before := time.Now().UTC()
	env, err := svc.CreateEphemeralEnvironment(ctx, tenantID, 99, "fix/bug", "dev", "pr_99", "ci-bot", 0)
	if err != nil {
		t.Fatalf("CreateEphemeralEnvironment: %v", err)
	}
	if env.ExpiresAt == nil {
		t.Fatalf("ExpiresAt = nil, want set under the default TTL")
	}
	gotTTL := env.ExpiresAt.Sub(before)
	if gotTTL < 23*time.Hour || gotTTL > 25*time.Hour {
		t.Fatalf("ExpiresAt - now = %v, want ~24h", gotTTL)
	}
}

func TestGetEnvironmentExisting(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateEnvironment(ctx, tenantID, "staging", "dev", "stg", false, "admin"); err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	env, found, err := svc.GetEnvironment(ctx, tenantID, "staging")
	if err != nil {
		t.Fatalf("GetEnvironment: %v", err)
	}
	if !found {
		t.Fatalf("found = false, want true")
	}
	if env.Name != "staging" {
		t.Fatalf("Name = %q, want staging", env.Name)
	}
}

func TestGetEnvironmentNonexistentReturnsNotFound(t *testing.T) {
	svc, tenantID := openTestService(t)
	_, found, err := svc.GetEnvironment(context.Background(), tenantID, "nonexistent")
	if err != nil {
		t.Fatalf("GetEnvironment: %v", err)
	}
	if found {
		t.Fatalf("found = true, want false")
	}
}

func TestListEnvironmentsSortedByName(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	for _, name := range []string{"gamma", "alpha", "beta"} {
		if _, err := svc.CreateEnvironment(ctx, tenantID, name, "dev", name, false, "admin"); err != nil {
			t.Fatalf("CreateEnvironment(%s): %v", name, err)
		}
	}
	envs, err := svc.ListEnvironments(ctx, tenantID)
	if err != nil {
		t.Fatalf("ListEnvironments: %v", err)
	}
	if len(envs) != 3 {
		t.Fatalf("len(envs) = %d, want 3", len(envs))
	}
	if envs[0].Name != "alpha" || envs[2].Name != "gamma" {
		t.Fatalf("unexpected order: %+v", envs)
	}
}

func TestDeleteEnvironmentReturnsTrue(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateEnvironment(ctx, tenantID, "staging", "dev", "stg", false, "admin"); err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	deleted, err := svc.DeleteEnvironment(ctx, tenantID, "staging")
	if err != nil {
		t.Fatalf("DeleteEnvironment: %v", err)
	}
	if !deleted {
		t.Fatalf("deleted = false, want true")
	}
	if _, found, _ := svc.GetEnvironment(ctx, tenantID, "staging"); found {
		t.Fatalf("deleted environment still visible via GetEnvironment")
	}
}

func TestDeleteEnvironmentNonexistentReturnsFalse(t *testing.T) {
	svc, tenantID := openTestService(t)
	deleted, err := svc.DeleteEnvironment(context.Background(), tenantID, "nonexistent")
	if err != nil {
		t.Fatalf("DeleteEnvironment: %v", err)
	}
	if deleted {
		t.Fatalf("deleted = true, want false")
	}
}

func TestPromoteRecordsEventAndComputesTargetSnapshotHash(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateEnvironment(ctx, tenantID, "staging", "dev", "stg", false, "admin"); err != nil {
		t.Fatalf("CreateEnvironment(staging): %v", err)
	}
	if _, err := svc.CreateEnvironment(ctx, tenantID, "production", "prod", "analytics", true, "admin"); err != nil {
		t.Fatalf("CreateEnvironment(production): %v", err)
	}

	versions := map[string]string{"orders": "v1", "customers": "v2"}
	promo, err := svc.Promote(ctx, tenantID, "staging", "production", "snap-abc", versions, "deploy-bot")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if promo.SourceEnvironment != "staging" || promo.TargetEnvironment != "production" {
		t.Fatalf("unexpected promotion environments: %+v", promo)
	}
	if promo.PromotedBy != "deploy-bot" {
		t.Fatalf("PromotedBy = %q, want deploy-bot", promo.PromotedBy)
	}
	if promo.SourceSnapshotID != "snap-abc" {
		t.Fatalf("SourceSnapshotID = %q, want snap-abc", promo.SourceSnapshotID)
	}

	// The target snapshot ID must be the tenant/environment-bound hash,
	// not a copy of the source snapshot ID — otherwise the same promotion
	// into two environments would be indistinguishable in history.
	otherTenantPromo, err := promoteUnderOtherTenant(t, versions)
	if err != nil {
		t.Fatalf("promote under other tenant: %v", err)
	}
	if promo.TargetSnapshotID == otherTenantPromo {
		t.Fatalf("target snapshot hash did not vary by tenant")
	}
}

func promoteUnderOtherTenant(t *testing.T, versions map[string]string) (string, error) {
	t.Helper()
	svc, _ := openTestService(t)
	const otherTenant = "tenant-b"
	ctx := context.Background()
	if _, err := svc.CreateEnvironment(ctx, otherTenant, "staging", "dev", "stg", false, "admin"); err != nil {
		return "", err
	}
	if _, err := svc.CreateEnvironment(ctx, otherTenant, "production", "prod", "analytics", true, "admin"); err != nil {
		return "", err
	}
	promo, err := svc.Promote(ctx, otherTenant, "staging", "production", "snap-abc", versions, "deploy-bot")
	if err != nil {
		return "", err
	}
	return promo.TargetSnapshotID, nil
}

func TestPromoteMissingSourceFails(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateEnvironment(ctx, tenantID, "production", "prod", "analytics", true, "admin"); err != nil {
		t.Fatalf("CreateEnvironment(production): %v", err)
	}
	_, err := svc.Promote(ctx, tenantID, "nonexistent", "production", "snap-abc", nil, "admin")
	if err == nil {
		t.Fatalf("expected an error for a missing source environment")
	}
}

func TestPromoteMissingTargetFails(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateEnvironment(ctx, tenantID, "staging", "dev", "stg", false, "admin"); err != nil {
		t.Fatalf("CreateEnvironment(staging): %v", err)
	}
	_, err := svc.Promote(ctx, tenantID, "staging", "nonexistent", "snap-abc", nil, "admin")
	if err == nil {
		t.Fatalf("expected an error for a missing target environment")
	}
}

func TestCleanupExpiredLeavesUnexpiredAlone(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateEphemeralEnvironment(ctx, tenantID, 1, "b1", "dev", "pr_1", "ci-bot", 24); err != nil {
		t.Fatalf("CreateEphemeralEnvironment: %v", err)
	}
	result, err := svc.CleanupExpired(ctx, tenantID)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if result.DeletedCount != 0 {
		t.Fatalf("DeletedCount = %d, want 0 (nothing has expired yet)", result.DeletedCount)
	}
	if _, found, _ := svc.GetEnvironment(ctx, tenantID, "pr-1"); !found {
		t.Fatalf("unexpired ephemeral environment was removed")
	}
}

func TestCleanupExpiredRemovesExpiredRows(t *testing.T) {
	svc, db, tenantID := openTestServiceWithDB(t)
	ctx := context.Background()

	store, err := repository.New(ctx, db, repository.DialectSQLite, tenantID)
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	if _, err := store.CreateEnvironment(ctx, repository.EnvironmentRow{
		Name: "pr-2", Catalog: "dev", SchemaPrefix: "pr_2",
		IsEphemeral: true, ExpiresAt: &past, CreatedBy: "ci-bot",
	}); err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}

	result, err := svc.CleanupExpired(ctx, tenantID)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Fatalf("DeletedCount = %d, want 1", result.DeletedCount)
	}
	if _, found, _ := svc.GetEnvironment(ctx, tenantID, "pr-2"); found {
		t.Fatalf("expired environment still visible after cleanup")
	}
}

func TestGetSQLRewriterRewritesSchemaPrefix(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateEnvironment(ctx, tenantID, "staging", "dev", "stg", false, "admin"); err != nil {
		t.Fatalf("CreateEnvironment(staging): %v", err)
	}
	if _, err := svc.CreateEnvironment(ctx, tenantID, "production", "prod", "analytics", true, "admin"); err != nil {
		t.Fatalf("CreateEnvironment(production): %v", err)
	}

	rewriter, found, err := svc.GetSQLRewriter(ctx, tenantID, "staging", "production")
	if err != nil {
		t.Fatalf("GetSQLRewriter: %v", err)
	}
	if !found {
		t.Fatalf("found = false, want true")
	}
	result := rewriter.Rewrite("SELECT * FROM stg.orders")
	if result != "SELECT * FROM analytics.orders" {
		t.Fatalf("Rewrite() = %q, want schema prefix swapped", result)
	}
}

func TestGetSQLRewriterMissingSourceReturnsNotFound(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateEnvironment(ctx, tenantID, "production", "prod", "analytics", true, "admin"); err != nil {
		t.Fatalf("CreateEnvironment(production): %v", err)
	}
	_, found, err := svc.GetSQLRewriter(ctx, tenantID, "nonexistent", "production")
	if err != nil {
		t.Fatalf("GetSQLRewriter: %v", err)
	}
	if found {
		t.Fatalf("found = true, want false")
	}
}

func TestGetSQLRewriterMissingTargetReturnsNotFound(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateEnvironment(ctx, tenantID, "staging", "dev", "stg", false, "admin"); err != nil {
		t.Fatalf("CreateEnvironment(staging): %v", err)
	}
	_, found, err := svc.GetSQLRewriter(ctx, tenantID, "staging", "nonexistent")
	if err != nil {
		t.Fatalf("GetSQLRewriter: %v", err)
	}
	if found {
		t.Fatalf("found = true, want false")
	}
}

func TestPromotionHistoryReturnsList(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	for _, name := range []string{"dev", "staging", "production"} {
		if _, err := svc.CreateEnvironment(ctx, tenantID, name, "cat", name, name == "production", "admin"); err != nil {
			t.Fatalf("CreateEnvironment(%s): %v", name, err)
		}
	}
	if _, err := svc.Promote(ctx, tenantID, "dev", "staging", "snap-1", nil, "deploy-bot"); err != nil {
		t.Fatalf("Promote(dev->staging): %v", err)
	}
	if _, err := svc.Promote(ctx, tenantID, "staging", "production", "snap-2", nil, "deploy-bot"); err != nil {
		t.Fatalf("Promote(staging->production): %v", err)
	}

	history, err := svc.PromotionHistory(ctx, tenantID, "", 10)
	if err != nil {
		t.Fatalf("PromotionHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
}

func TestPromotionHistoryFiltersByEnvironment(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	for _, name := range []string{"dev", "staging", "production"} {
		if _, err := svc.CreateEnvironment(ctx, tenantID, name, "cat", name, name == "production", "admin"); err != nil {
			t.Fatalf("CreateEnvironment(%s): %v", name, err)
		}
	}
	if _, err := svc.Promote(ctx, tenantID, "dev", "staging", "snap-1", nil, "deploy-bot"); err != nil {
		t.Fatalf("Promote(dev->staging): %v", err)
	}
	if _, err := svc.Promote(ctx, tenantID, "staging", "production", "snap-2", nil, "deploy-bot"); err != nil {
		t.Fatalf("Promote(staging->production): %v", err)
	}

	history, err := svc.PromotionHistory(ctx, tenantID, "dev", 0)
	if err != nil {
		t.Fatalf("PromotionHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if history[0].SourceEnvironment != "dev" {
		t.Fatalf("unexpected filtered row: %+v", history[0])
	}
}

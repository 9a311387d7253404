// Package environment implements ephemeral PR-preview environments and
// snapshot promotion between named environments (§4.20 supplement).
// Grounded on original_source/api/api/tests/test_environment_service.py,
// the only surviving artifact of the original environment_service.py (its
// source was not retained in the retrieval pack) — the operations below
// (CreateEnvironment, CreateEphemeralEnvironment, GetEnvironment,
// ListEnvironments, DeleteEnvironment, Promote, CleanupExpired,
// GetSQLRewriter, PromotionHistory) and their defaults are reverse
// engineered from that test's assertions.
package environment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ironlayer/ironlayer/internal/model"
	"github.com/ironlayer/ironlayer/internal/repository"
)

// defaultEphemeralTTLHours is the PR-preview lifetime used when the caller
// does not specify one, matching the original's ephemeral-environment
// default lifespan.
const defaultEphemeralTTLHours = 24

// defaultPromotionHistoryLimit is the row cap applied when the caller does
// not specify one (test_returns_list / test_filter_by_environment both rely
// on this default).
const defaultPromotionHistoryLimit = 20

// Environment is a named target a plan can be applied against: a standard,
// long-lived environment (dev/staging/production) or an ephemeral
// PR-preview environment tied to a branch and pull request.
type Environment struct {
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
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Promotion is a recorded snapshot handoff from one environment to another.
type Promotion struct {
	ID                string
	SourceEnvironment string
	TargetEnvironment string
	SourceSnapshotID  string
	TargetSnapshotID  string
	PromotedBy        string
	PromotedAt        time.Time
}

// CleanupResult reports how many ephemeral environments Cleanup removed.
type CleanupResult struct {
	DeletedCount int
}

// Service manages environments and promotions, opening a tenant-scoped
// repository.Store per call the same way billing.Service does — every
// operation here arrives already carrying a tenant (an authenticated
// request), unlike internal/webhook's cross-tenant lookup.
type Service struct {
	db      *sql.DB
	dialect repository.Dialect
}

// NewService builds a Service over an already-open database handle.
func NewService(db *sql.DB, dialect repository.Dialect) *Service {
	return &Service{db: db, dialect: dialect}
}

func (s *Service) store(ctx context.Context, tenantID string) (*repository.Store, error) {
	store, err := repository.New(ctx, s.db, s.dialect, tenantID)
	if err != nil {
		return nil, fmt.Errorf("environment: open store: %w", err)
	}
	return store, nil
}

// CreateEnvironment registers a standard environment for tenantID.
func (s *Service) CreateEnvironment(ctx context.Context, tenantID, name, catalog, schemaPrefix string, isProduction bool, createdBy string) (Environment, error) {
	store, err := s.store(ctx, tenantID)
	if err != nil {
		return Environment{}, err
	}
	row, err := store.CreateEnvironment(ctx, repository.EnvironmentRow{
		Name:         name,
		Catalog:      catalog,
		SchemaPrefix: schemaPrefix,
		IsProduction: isProduction,
		CreatedBy:    createdBy,
	})
	if err != nil {
		return Environment{}, fmt.Errorf("environment: create %q: %w", name, err)
	}
	return fromRow(row), nil
}

// CreateEphemeralEnvironment registers a PR-preview environment named
// "pr-<prNumber>", expiring ttlHours from now (defaultEphemeralTTLHours
// when ttlHours <= 0).
func (s *Service) CreateEphemeralEnvironment(ctx context.Context, tenantID string, prNumber int, branchName, catalog, schemaPrefix, createdBy string, ttlHours int) (Environment, error) {
	if ttlHours <= 0 {
		ttlHours = defaultEphemeralTTLHours
	}
	store, err := s.store(ctx, tenantID)
	if err != nil {
		return Environment{}, err
	}
	expires := time.Now().UTC().Add(time.Duration(ttlHours) * time.Hour)
	name := fmt.Sprintf("pr-%d", prNumber)
	row, err := store.CreateEnvironment(ctx, repository.EnvironmentRow{
		Name:         name,
		Catalog:      catalog,
		SchemaPrefix: schemaPrefix,
		IsEphemeral:  true,
		PRNumber:     &prNumber,
		BranchName:   branchName,
		ExpiresAt:    &expires,
		CreatedBy:    createdBy,
	})
	if err != nil {
		return Environment{}, fmt.Errorf("environment: create ephemeral %q: %w", name, err)
	}
	return fromRow(row), nil
}

// GetEnvironment returns the named environment, or (Environment{}, false)
// when it does not exist or has been deleted — mirroring the original's
// get_environment returning None rather than raising.
func (s *Service) GetEnvironment(ctx context.Context, tenantID, name string) (Environment, bool, error) {
	store, err := s.store(ctx, tenantID)
	if err != nil {
		return Environment{}, false, err
	}
	row, err := store.GetEnvironment(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Environment{}, false, nil
		}
		return Environment{}, false, fmt.Errorf("environment: get %q: %w", name, err)
	}
	return fromRow(row), true, nil
}

// ListEnvironments returns every environment for tenantID, ordered by name.
func (s *Service) ListEnvironments(ctx context.Context, tenantID string) ([]Environment, error) {
	store, err := s.store(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := store.ListEnvironments(ctx)
	if err != nil {
		return nil, fmt.Errorf("environment: list: %w", err)
	}
	envs := make([]Environment, 0, len(rows))
	for _, row := range rows {
		envs = append(envs, fromRow(row))
	}
	return envs, nil
}

// DeleteEnvironment soft-deletes the named environment, reporting false
// (not an error) when it does not exist or was already deleted.
func (s *Service) DeleteEnvironment(ctx context.Context, tenantID, name string) (bool, error) {
	store, err := s.store(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if err := store.SoftDeleteEnvironment(ctx, name, time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("environment: delete %q: %w", name, err)
	}
	return true, nil
}

// Promote records a snapshot handoff from sourceName to targetName, both of
// which must already exist. sourceSnapshotID identifies the snapshot being
// promoted; the target-side snapshot ID is computed fresh via
// model.SnapshotHash(tenantID, targetName, modelVersions) rather than
// copied from the source, so the same promotion into two different
// environments (or the same environment under two tenants) is always
// distinguishable in the recorded history — the same tenant/environment
// mixing spec.md's snapshot-hash property requires of ContentHash's
// replacement.
func (s *Service) Promote(ctx context.Context, tenantID, sourceName, targetName, sourceSnapshotID string, modelVersions map[string]string, promotedBy string) (Promotion, error) {
	store, err := s.store(ctx, tenantID)
	if err != nil {
		return Promotion{}, err
	}
	if _, err := store.GetEnvironment(ctx, sourceName); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Promotion{}, fmt.Errorf("environment: source environment %q not found", sourceName)
		}
		return Promotion{}, fmt.Errorf("environment: get source %q: %w", sourceName, err)
	}
	if _, err := store.GetEnvironment(ctx, targetName); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Promotion{}, fmt.Errorf("environment: target environment %q not found", targetName)
		}
		return Promotion{}, fmt.Errorf("environment: get target %q: %w", targetName, err)
	}

	targetSnapshotID := model.SnapshotHash(tenantID, targetName, modelVersions)
	row, err := store.CreateEnvironmentPromotion(ctx, repository.EnvironmentPromotionRow{
		ID:                uuid.NewString(),
		SourceEnvironment: sourceName,
		TargetEnvironment: targetName,
		SourceSnapshotID:  sourceSnapshotID,
		TargetSnapshotID:  targetSnapshotID,
		PromotedBy:        promotedBy,
	})
	if err != nil {
		return Promotion{}, fmt.Errorf("environment: record promotion %s->%s: %w", sourceName, targetName, err)
	}
	return fromPromotionRow(row), nil
}

// CleanupExpired soft-deletes every ephemeral environment for tenantID
// whose TTL has elapsed, reporting how many were removed.
func (s *Service) CleanupExpired(ctx context.Context, tenantID string) (CleanupResult, error) {
	store, err := s.store(ctx, tenantID)
	if err != nil {
		return CleanupResult{}, err
	}
	n, err := store.CleanupExpiredEnvironments(ctx, time.Now().UTC())
	if err != nil {
		return CleanupResult{}, fmt.Errorf("environment: cleanup expired: %w", err)
	}
	return CleanupResult{DeletedCount: n}, nil
}

// SQLRewriter retargets SQL text from one environment's schema prefix to
// another's. It is a non-parsing, text-substitution rewrite (the same
// approach the original takes), not a SQL-aware transform: every occurrence
// of "<prefix>." is replaced wherever it appears, so "stg.orders" becomes
// "analytics.orders", and so does a "stg." inside a string literal or at the
// end of a longer identifier such as "xstg.".
type SQLRewriter struct {
	fromPrefix string
	toPrefix   string
}

// Rewrite replaces every "<fromPrefix>." reference with "<toPrefix>.".
func (r SQLRewriter) Rewrite(sql string) string {
	return strings.ReplaceAll(sql, r.fromPrefix+".", r.toPrefix+".")
}

// GetSQLRewriter builds a SQLRewriter from sourceName's schema prefix to
// targetName's, returning (SQLRewriter{}, false) when either environment
// does not exist.
func (s *Service) GetSQLRewriter(ctx context.Context, tenantID, sourceName, targetName string) (SQLRewriter, bool, error) {
	store, err := s.store(ctx, tenantID)
	if err != nil {
		return SQLRewriter{}, false, err
	}
	source, err := store.GetEnvironment(ctx, sourceName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return SQLRewriter{}, false, nil
		}
		return SQLRewriter{}, false, fmt.Errorf("environment: get source %q: %w", sourceName, err)
	}
	target, err := store.GetEnvironment(ctx, targetName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return SQLRewriter{}, false, nil
		}
		return SQLRewriter{}, false, fmt.Errorf("environment: get target %q: %w", targetName, err)
	}
	return SQLRewriter{fromPrefix: source.SchemaPrefix, toPrefix: target.SchemaPrefix}, true, nil
}

// PromotionHistory returns tenantID's promotion history, most recent
// first, capped at limit (defaultPromotionHistoryLimit when limit <= 0) and
// optionally filtered to promotions where environmentName was either the
// source or the target.
func (s *Service) PromotionHistory(ctx context.Context, tenantID, environmentName string, limit int) ([]Promotion, error) {
	if limit <= 0 {
		limit = defaultPromotionHistoryLimit
	}
	store, err := s.store(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := store.ListEnvironmentPromotions(ctx, environmentName, limit)
	if err != nil {
		return nil, fmt.Errorf("environment: promotion history: %w", err)
	}
	promotions := make([]Promotion, 0, len(rows))
	for _, row := range rows {
		promotions = append(promotions, fromPromotionRow(row))
	}
	return promotions, nil
}

func fromRow(row repository.EnvironmentRow) Environment {
	return Environment{
		Name:         row.Name,
		Catalog:      row.Catalog,
		SchemaPrefix: row.SchemaPrefix,
		IsDefault:    row.IsDefault,
		IsProduction: row.IsProduction,
		IsEphemeral:  row.IsEphemeral,
		PRNumber:     row.PRNumber,
		BranchName:   row.BranchName,
		ExpiresAt:    row.ExpiresAt,
		CreatedBy:    row.CreatedBy,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func fromPromotionRow(row repository.EnvironmentPromotionRow) Promotion {
	return Promotion{
		ID:                row.ID,
		SourceEnvironment: row.SourceEnvironment,
		TargetEnvironment: row.TargetEnvironment,
		SourceSnapshotID:  row.SourceSnapshotID,
		TargetSnapshotID:  row.TargetSnapshotID,
		PromotedBy:        row.PromotedBy,
		PromotedAt:        row.PromotedAt,
	}
}

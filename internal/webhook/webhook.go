// Package webhook implements inbound Git-provider webhooks (§4.18 supplement):
// HMAC-signed push events that auto-trigger a plan for the matching
// tenant/repo/branch configuration, plus the CRUD surface for registering
// those configurations. Grounded on
// original_source/api/api/tests/test_github_webhook_service.py, the only
// surviving artifact of the original github_webhook_service.py (its source
// was not retained in the retrieval pack) — behavior below is reverse
// engineered from that test's assertions.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ironlayer/ironlayer/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// PushStatus is the outcome HandlePush reports, matching the three strings
// the original test asserts on verbatim.
type PushStatus string

const (
	StatusPlanTriggered PushStatus = "plan_triggered"
	StatusAcknowledged  PushStatus = "acknowledged"
	StatusIgnored       PushStatus = "ignored"
)

// Ignore reasons, reported alongside StatusIgnored.
const (
	ReasonNoMatchingConfig   = "no_matching_config"
	ReasonIncompletePayload  = "incomplete_payload"
)

// ValidateSignature reports whether signature is the hex-encoded
// "sha256=<hmac>" digest of payload keyed by secret. A bare hex digest
// without the "sha256=" prefix is rejected even if the underlying HMAC
// matches — GitHub always sends the prefixed form, and accepting the bare
// form would widen what counts as a valid signature beyond what the
// provider actually sends. Comparison is constant-time via hmac.Equal.
func ValidateSignature(payload []byte, signature, secret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := prefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// PushEvent is the subset of a provider push payload this package reads.
type PushEvent struct {
	RepoCloneURL string `json:"clone_url"`
	RepoHTMLURL  string `json:"html_url"`
	Ref          string `json:"ref"`
	BaseSHA      string `json:"base_sha"`
	TargetSHA    string `json:"target_sha"`
}

// BranchName extracts the branch name from a "refs/heads/<branch>" ref,
// slash-safe so "refs/heads/feature/my-branch" yields "feature/my-branch".
func (e PushEvent) BranchName() string {
	return strings.TrimPrefix(e.Ref, "refs/heads/")
}

// RepoURL resolves the repo clone URL, falling back to the HTML URL when no
// clone_url field is present in the payload.
func (e PushEvent) RepoURL() string {
	if e.RepoCloneURL != "" {
		return e.RepoCloneURL
	}
	return e.RepoHTMLURL
}

func (e PushEvent) complete() bool {
	return e.RepoURL() != "" && e.Ref != "" && e.BaseSHA != "" && e.TargetSHA != ""
}

// PushResult is the JSON body HandlePush reports.
type PushResult struct {
	Status    PushStatus `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	BaseSHA   string     `json:"base_sha,omitempty"`
	TargetSHA string     `json:"target_sha,omitempty"`
	Branch    string     `json:"branch,omitempty"`
	AutoApply bool       `json:"auto_apply,omitempty"`
	AutoPlan  bool       `json:"auto_plan,omitempty"`
}

// Config is a persisted webhook config row. SecretHash is a bcrypt digest
// kept for audit/record purposes; SecretEncrypted is the reversible form
// HandlePush actually verifies signatures against (see package doc comment
// on the encryption choice in internal/webhook/crypto.go).
type Config struct {
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

// Service manages webhook configs and dispatches inbound push events. It
// resolves the owning tenant from the push payload's repo/branch before
// opening a tenant-scoped Store, mirroring billing.Service's
// resolve-then-open pattern for the same reason: an inbound webhook arrives
// with no tenant context of its own.
type Service struct {
	db      *sql.DB
	dialect repository.Dialect
	cipher  *secretCipher
	logger  *zap.Logger
}

// NewService builds a Service. masterKey is the 32-byte AES-256 key used to
// encrypt stored secrets (IRONLAYER_WEBHOOK_SECRET_KEY); see crypto.go.
func NewService(db *sql.DB, dialect repository.Dialect, masterKey []byte, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cipher, err := newSecretCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("webhook: build secret cipher: %w", err)
	}
	return &Service{db: db, dialect: dialect, cipher: cipher, logger: logger}, nil
}

// CreateConfig registers a new webhook config for tenantID, bcrypt-hashing
// and encrypting secret but never persisting it in the clear. autoPlan
// defaults true and autoApply defaults false, matching the original
// test's asserted defaults (test_create_config_hashes_secret).
func (s *Service) CreateConfig(ctx context.Context, tenantID, repoURL, branch, secret string, autoPlan, autoApply bool) (Config, error) {
	store, err := repository.New(ctx, s.db, s.dialect, tenantID)
	if err != nil {
		return Config{}, fmt.Errorf("webhook: open store: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return Config{}, fmt.Errorf("webhook: hash secret: %w", err)
	}
	encrypted, err := s.cipher.encrypt(secret)
	if err != nil {
		return Config{}, fmt.Errorf("webhook: encrypt secret: %w", err)
	}

	cfg := Config{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		Provider:        "github",
		RepoURL:         repoURL,
		Branch:          branch,
		SecretHash:      string(hash),
		SecretEncrypted: encrypted,
		AutoPlan:        autoPlan,
		AutoApply:       autoApply,
	}
	createdAt, err := store.CreateWebhookConfig(ctx, cfg.ID, repository.WebhookConfigRow{
		Provider:        cfg.Provider,
		RepoURL:         cfg.RepoURL,
		Branch:          cfg.Branch,
		SecretHash:      cfg.SecretHash,
		SecretEncrypted: cfg.SecretEncrypted,
		AutoPlan:        cfg.AutoPlan,
		AutoApply:       cfg.AutoApply,
	})
	if err != nil {
		return Config{}, fmt.Errorf("webhook: create config: %w", err)
	}
	cfg.CreatedAt = createdAt
	cfg.UpdatedAt = createdAt
	return cfg, nil
}

// ListConfigs returns every config registered for tenantID. Secrets (hash
// and encrypted form) are not copied into the returned configs.
func (s *Service) ListConfigs(ctx context.Context, tenantID string) ([]Config, error) {
	store, err := repository.New(ctx, s.db, s.dialect, tenantID)
	if err != nil {
		return nil, fmt.Errorf("webhook: open store: %w", err)
	}
	rows, err := store.ListWebhookConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("webhook: list configs: %w", err)
	}
	configs := make([]Config, 0, len(rows))
	for _, row := range rows {
		configs = append(configs, Config{
			ID: row.ID, TenantID: row.TenantID, Provider: row.Provider,
			RepoURL: row.RepoURL, Branch: row.Branch,
			AutoPlan: row.AutoPlan, AutoApply: row.AutoApply,
			CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
		})
	}
	return configs, nil
}

// DeleteConfig removes a webhook config owned by tenantID.
func (s *Service) DeleteConfig(ctx context.Context, tenantID, configID string) error {
	store, err := repository.New(ctx, s.db, s.dialect, tenantID)
	if err != nil {
		return fmt.Errorf("webhook: open store: %w", err)
	}
	return store.DeleteWebhookConfig(ctx, configID)
}

// HandlePush dispatches an already signature-verified push event: finds the
// matching config by repo URL + branch across every tenant (the webhook
// arrives before any tenant is known), and reports plan_triggered,
// acknowledged, or ignored per the original service's exact status/reason
// strings.
func (s *Service) HandlePush(ctx context.Context, evt PushEvent) (PushResult, error) {
	if !evt.complete() {
		return PushResult{Status: StatusIgnored, Reason: ReasonIncompletePayload}, nil
	}

	cfg, err := repository.FindWebhookConfigByRepoAndBranch(ctx, s.db, s.dialect, evt.RepoURL(), evt.BranchName())
	if err != nil {
		if err == repository.ErrNotFound {
			return PushResult{Status: StatusIgnored, Reason: ReasonNoMatchingConfig}, nil
		}
		return PushResult{}, fmt.Errorf("webhook: lookup config: %w", err)
	}

	if !cfg.AutoPlan {
		return PushResult{Status: StatusAcknowledged, AutoPlan: false}, nil
	}

	return PushResult{
		Status:    StatusPlanTriggered,
		BaseSHA:   evt.BaseSHA,
		TargetSHA: evt.TargetSHA,
		Branch:    evt.BranchName(),
		AutoApply: cfg.AutoApply,
	}, nil
}

// VerifySignature looks up the config matching repoURL/branch and checks
// signature against its decrypted secret. Returns false (never an error)
// for "no matching config" so callers uniformly reject with 401 regardless
// of whether the repo is unknown or the signature is simply wrong —
// avoiding a repo-enumeration oracle on the webhook endpoint.
func (s *Service) VerifySignature(ctx context.Context, repoURL, branch string, payload []byte, signature string) bool {
	cfg, err := repository.FindWebhookConfigByRepoAndBranch(ctx, s.db, s.dialect, repoURL, branch)
	if err != nil {
		return false
	}
	secret, err := s.cipher.decrypt(cfg.SecretEncrypted)
	if err != nil {
		s.logger.Warn("failed to decrypt webhook secret", zap.String("tenant_id", cfg.TenantID), zap.Error(err))
		return false
	}
	return ValidateSignature(payload, signature, secret)
}

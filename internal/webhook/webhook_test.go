package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/ironlayer/ironlayer/internal/repository"
	"go.uber.org/zap/zaptest"

	_ "modernc.org/sqlite"
)

var testMasterKey = bytes.Repeat([]byte("k"), 32)

func openTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "webhook.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	const tenantID = "tenant-a"
	if _, err := repository.New(context.Background(), db, repository.DialectSQLite, tenantID); err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	svc, err := NewService(db, repository.DialectSQLite, testMasterKey, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, tenantID
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestValidateSignatureAccepted(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	sig := sign(payload, "s3cr3t")
	if !ValidateSignature(payload, sig, "s3cr3t") {
		t.Fatalf("ValidateSignature() = false, want true")
	}
}

func TestValidateSignatureWrongSecret(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	sig := sign(payload, "s3cr3t")
	if ValidateSignature(payload, sig, "other") {
		t.Fatalf("ValidateSignature() = true, want false")
	}
}

func TestValidateSignatureRejectsBareHexWithoutPrefix(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	mac := hmac.New(sha256.New, []byte("s3cr3t"))
	mac.Write(payload)
	bareHex := hex.EncodeToString(mac.Sum(nil))
	if ValidateSignature(payload, bareHex, "s3cr3t") {
		t.Fatalf("ValidateSignature() = true for a bare hex digest, want false (missing sha256= prefix)")
	}
}

func TestCreateConfigDefaults(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	cfg, err := svc.CreateConfig(ctx, tenantID, "https://github.com/acme/repo", "main", "s3cr3t", true, false)
	if err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}
	if !cfg.AutoPlan {
		t.Fatalf("AutoPlan = false, want true")
	}
	if cfg.AutoApply {
		t.Fatalf("AutoApply = true, want false")
	}
	if cfg.SecretHash == "" || bytes.Contains([]byte(cfg.SecretHash), []byte("s3cr3t")) {
		t.Fatalf("SecretHash should be a bcrypt digest, not contain the raw secret: %q", cfg.SecretHash)
	}
	if len(cfg.SecretEncrypted) == 0 {
		t.Fatalf("SecretEncrypted should be populated")
	}
}

func TestListConfigsRoundTrips(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateConfig(ctx, tenantID, "https://github.com/acme/repo", "main", "s3cr3t", true, false); err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}
	configs, err := svc.ListConfigs(ctx, tenantID)
	if err != nil {
		t.Fatalf("ListConfigs: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("len(configs) = %d, want 1", len(configs))
	}
	if configs[0].RepoURL != "https://github.com/acme/repo" || configs[0].Branch != "main" {
		t.Fatalf("unexpected config: %+v", configs[0])
	}
}

func TestDeleteConfigRemoves(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	cfg, err := svc.CreateConfig(ctx, tenantID, "https://github.com/acme/repo", "main", "s3cr3t", true, false)
	if err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}
	if err := svc.DeleteConfig(ctx, tenantID, cfg.ID); err != nil {
		t.Fatalf("DeleteConfig: %v", err)
	}
	configs, err := svc.ListConfigs(ctx, tenantID)
	if err != nil {
		t.Fatalf("ListConfigs: %v", err)
	}
	if len(configs) != 0 {
		t.Fatalf("len(configs) = %d, want 0 after delete", len(configs))
	}
}

func completePush(repoURL, branch string) PushEvent {
	return PushEvent{
		RepoCloneURL: repoURL,
		Ref:          "refs/heads/" + branch,
		BaseSHA:      "abc123",
		TargetSHA:    "def456",
	}
}

func TestHandlePushTriggersPlanWhenAutoPlanEnabled(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateConfig(ctx, tenantID, "https://github.com/acme/repo", "main", "s3cr3t", true, true); err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}

	result, err := svc.HandlePush(ctx, completePush("https://github.com/acme/repo", "main"))
	if err != nil {
		t.Fatalf("HandlePush: %v", err)
	}
	if result.Status != StatusPlanTriggered {
		t.Fatalf("Status = %q, want %q", result.Status, StatusPlanTriggered)
	}
	if !result.AutoApply {
		t.Fatalf("AutoApply = false, want true (config has auto_apply set)")
	}
	if result.Branch != "main" || result.BaseSHA != "abc123" || result.TargetSHA != "def456" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHandlePushAcknowledgesWhenAutoPlanDisabled(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateConfig(ctx, tenantID, "https://github.com/acme/repo", "main", "s3cr3t", false, false); err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}

	result, err := svc.HandlePush(ctx, completePush("https://github.com/acme/repo", "main"))
	if err != nil {
		t.Fatalf("HandlePush: %v", err)
	}
	if result.Status != StatusAcknowledged {
		t.Fatalf("Status = %q, want %q", result.Status, StatusAcknowledged)
	}
}

func TestHandlePushIgnoresNoMatchingConfig(t *testing.T) {
	svc, _ := openTestService(t)
	result, err := svc.HandlePush(context.Background(), completePush("https://github.com/acme/unregistered", "main"))
	if err != nil {
		t.Fatalf("HandlePush: %v", err)
	}
	if result.Status != StatusIgnored || result.Reason != ReasonNoMatchingConfig {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHandlePushIgnoresIncompletePayload(t *testing.T) {
	svc, _ := openTestService(t)
	result, err := svc.HandlePush(context.Background(), PushEvent{Ref: "refs/heads/main"})
	if err != nil {
		t.Fatalf("HandlePush: %v", err)
	}
	if result.Status != StatusIgnored || result.Reason != ReasonIncompletePayload {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestVerifySignatureAcceptsMatchingSecret(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateConfig(ctx, tenantID, "https://github.com/acme/repo", "main", "s3cr3t", true, false); err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}
	payload := []byte(`{"ref":"refs/heads/main"}`)
	sig := sign(payload, "s3cr3t")
	if !svc.VerifySignature(ctx, "https://github.com/acme/repo", "main", payload, sig) {
		t.Fatalf("VerifySignature() = false, want true")
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	svc, tenantID := openTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateConfig(ctx, tenantID, "https://github.com/acme/repo", "main", "s3cr3t", true, false); err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}
	payload := []byte(`{"ref":"refs/heads/main"}`)
	sig := sign(payload, "wrong-secret")
	if svc.VerifySignature(ctx, "https://github.com/acme/repo", "main", payload, sig) {
		t.Fatalf("VerifySignature() = true, want false")
	}
}

func TestVerifySignatureFalseForUnknownRepo(t *testing.T) {
	svc, _ := openTestService(t)
	payload := []byte(`{"ref":"refs/heads/main"}`)
	sig := sign(payload, "whatever")
	if svc.VerifySignature(context.Background(), "https://github.com/acme/unregistered", "main", payload, sig) {
		t.Fatalf("VerifySignature() = true for an unregistered repo, want false")
	}
}

func TestBranchNameStripsRefsHeadsPrefix(t *testing.T) {
	evt := PushEvent{Ref: "refs/heads/feature/my-branch"}
	if got := evt.BranchName(); got != "feature/my-branch" {
		t.Fatalf("BranchName() = %q, want feature/my-branch", got)
	}
}

func TestRepoURLFallsBackToHTMLURL(t *testing.T) {
	evt := PushEvent{RepoHTMLURL: "https://github.com/acme/repo"}
	if got := evt.RepoURL(); got != "https://github.com/acme/repo" {
		t.Fatalf("RepoURL() = %q, want the html_url fallback", got)
	}
}

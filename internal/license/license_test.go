package license

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/ironlayer/ironlayer/internal/quota"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	f := File{
		LicenseID: "lic-1",
		TenantID:  "tenant-a",
		Tier:      quota.TierEnterprise,
		IssuedAt:  time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(time.Hour),
		Features:  []Feature{FeatureAuditLog},
	}

	signed, err := Sign(f, priv)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := Verify(signed, pub, time.Now()); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	f := File{LicenseID: "lic-1", Tier: quota.TierTeam, ExpiresAt: time.Now().Add(time.Hour)}
	signed, _ := Sign(f, priv)

	signed.TenantID = "attacker-tenant"
	if err := Verify(signed, pub, time.Now()); err != ErrInvalidSignature {
		t.Fatalf("Verify() error = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	f := File{LicenseID: "lic-1", Tier: quota.TierTeam, ExpiresAt: time.Now().Add(-time.Hour)}
	signed, _ := Sign(f, priv)

	if err := Verify(signed, pub, time.Now()); err != ErrExpired {
		t.Fatalf("Verify() error = %v, want ErrExpired", err)
	}
}

func TestManagerDefaultsToCommunityTierWithoutLicense(t *testing.T) {
	m := NewManager(nil)
	if m.Tier() != quota.TierCommunity {
		t.Fatalf("Tier() = %q, want community", m.Tier())
	}
	if m.CheckEntitlement(FeatureAuditLog) {
		t.Fatalf("community tier should not have audit_log")
	}
}

func TestManagerLoadGrantsFeatures(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	f := File{
		LicenseID: "lic-1", Tier: quota.TierEnterprise,
		ExpiresAt: time.Now().Add(time.Hour),
		Features:  []Feature{FeatureAuditLog, FeatureReconciliation},
	}
	signed, _ := Sign(f, priv)

	m := NewManager(pub)
	if err := m.Load(signed, time.Now()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !m.CheckEntitlement(FeatureAuditLog) {
		t.Fatalf("expected audit_log entitlement after load")
	}
	if m.CheckEntitlement(FeatureMultiTenant) {
		t.Fatalf("multi_tenant was not granted")
	}
}

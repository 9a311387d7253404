package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	m := NewManager([]byte("test-secret"), "ironlayer", time.Hour)
	token, err := m.Issue("user-1", "tenant-a", RoleOperator, IdentityUser, []string{"read", "write"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(token, tokenPrefix) {
		t.Fatalf("token %q missing bmdev. prefix", token)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Sub != "user-1" || claims.TenantID != "tenant-a" || claims.Role != RoleOperator {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	m := NewManager([]byte("test-secret"), "ironlayer", time.Hour)
	token, err := m.Issue("user-1", "tenant-a", RoleViewer, IdentityUser, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	tampered := token[:len(token)-1] + "0"

	_, err = m.Validate(tampered)
	if err != ErrInvalidSignature {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewManager([]byte("secret-a"), "ironlayer", time.Hour)
	verifier := NewManager([]byte("secret-b"), "ironlayer", time.Hour)

	token, err := issuer.Issue("user-1", "tenant-a", RoleViewer, IdentityUser, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = verifier.Validate(token)
	if err != ErrInvalidSignature {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

// TestS4TokenExpiresAfterTTL mirrors spec scenario S4.
func TestS4TokenExpiresAfterTTL(t *testing.T) {
	now := time.Now()
	clock := now
	m := NewManager([]byte("test-secret"), "ironlayer", time.Second)
	m.now = func() time.Time { return clock }

	token, err := m.Issue("user-1", "tenant-a", RoleViewer, IdentityUser, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock = now.Add(1500 * time.Millisecond)
	_, err = m.Validate(token)
	if err != ErrTokenExpired {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestValidateDefaultsRoleByIdentityKind(t *testing.T) {
	m := NewManager([]byte("test-secret"), "ironlayer", time.Hour)

	claims := Claims{Sub: "svc-1", TenantID: "tenant-a", IdentityKind: IdentityService}
	token, err := m.sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Role != RoleService {
		t.Fatalf("Role = %s, want service for a service identity with no role claim", got.Role)
	}
}

type fakeRevocationChecker struct {
	revoked map[string]bool
}

func (f *fakeRevocationChecker) IsRevoked(ctx context.Context, jti string) bool {
	return f.revoked[jti]
}

func TestValidateNotRevokedRejectsRevokedJTI(t *testing.T) {
	m := NewManager([]byte("test-secret"), "ironlayer", time.Hour)
	token, err := m.Issue("user-1", "tenant-a", RoleViewer, IdentityUser, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, _ := m.Validate(token)

	checker := &fakeRevocationChecker{revoked: map[string]bool{claims.JTI: true}}
	_, err = m.ValidateNotRevoked(context.Background(), token, checker)
	if err != ErrTokenRevoked {
		t.Fatalf("err = %v, want ErrTokenRevoked", err)
	}
}

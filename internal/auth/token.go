package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const tokenPrefix = "bmdev."

var (
	// ErrMalformedToken covers any structural problem with a token string.
	ErrMalformedToken = errors.New("auth: malformed token")
	// ErrInvalidSignature means the HMAC over the payload did not match.
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	// ErrTokenExpired is returned once now > claims.Expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenRevoked is returned when the token's jti is on the
	// revocation list.
	ErrTokenRevoked = errors.New("auth: token revoked")
)

// IdentityKind distinguishes human users from service principals; a
// service identity never inherits a default non-service role.
type IdentityKind string

const (
	IdentityUser    IdentityKind = "user"
	IdentityService IdentityKind = "service"
)

// Claims is the decoded payload of a dev-mode bearer token.
type Claims struct {
	Sub          string       `json:"sub"`
	TenantID     string       `json:"tenant_id"`
	Issuer       string       `json:"iss"`
	IssuedAt     int64        `json:"iat"`
	Expiry       int64        `json:"exp"`
	Scopes       []string     `json:"scopes"`
	JTI          string       `json:"jti"`
	IdentityKind IdentityKind `json:"identity_kind"`
	Role         Role         `json:"role"`
}

// Manager issues and validates dev-mode HMAC bearer tokens of the form
// bmdev.<base64url(payload)>.<hex(HMAC-SHA256(payload, secret))>.
//
// Production deployments may instead present KMS-signed tokens (detected
// by an `arn:aws:kms:` or `https://*.vault.azure.net/keys/` prefix) —
// verifying those is delegated to a KMS client this package does not own;
// Manager handles only the development/self-hosted path.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewManager builds a token Manager. secret must be non-empty outside
// development mode; callers are responsible for that check since Manager
// itself has no concept of AUTH_MODE.
func NewManager(secret []byte, issuer string, ttl time.Duration) *Manager {
	return &Manager{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue mints a new token for the given subject/tenant/role, with a fresh
// jti and the manager's configured TTL.
func (m *Manager) Issue(sub, tenantID string, role Role, identityKind IdentityKind, scopes []string) (string, error) {
	now := m.now().UTC()
	claims := Claims{
		Sub:          sub,
		TenantID:     tenantID,
		Issuer:       m.issuer,
		IssuedAt:     now.Unix(),
		Expiry:       now.Add(m.ttl).Unix(),
		Scopes:       scopes,
		JTI:          uuid.NewString(),
		IdentityKind: identityKind,
		Role:         role,
	}
	return m.sign(claims)
}

func (m *Manager) sign(claims Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: marshal claims: %w", err)
	}
	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(encodedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return tokenPrefix + encodedPayload + "." + signature, nil
}

// Validate parses and verifies a bearer token: signature first, then fills
// in the default role/identity_kind when the claim was omitted, then checks
// expiry. A default role always leans least-privilege: "viewer" for user
// identities, "service" for service identities — never "admin".
func (m *Manager) Validate(token string) (Claims, error) {
	if !strings.HasPrefix(token, tokenPrefix) {
		return Claims{}, ErrMalformedToken
	}
	rest := strings.TrimPrefix(token, tokenPrefix)
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return Claims{}, ErrMalformedToken
	}
	encodedPayload, signature := parts[0], parts[1]

	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(encodedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return Claims{}, ErrInvalidSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return Claims{}, ErrMalformedToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrMalformedToken
	}

	if claims.IdentityKind == "" {
		claims.IdentityKind = IdentityUser
	}
	if claims.Role == "" {
		if claims.IdentityKind == IdentityService {
			claims.Role = RoleService
		} else {
			claims.Role = RoleViewer
		}
	}

	if m.now().UTC().After(time.Unix(claims.Expiry, 0)) {
		return claims, ErrTokenExpired
	}
	return claims, nil
}

// RevocationChecker reports whether a jti has been revoked; satisfied by
// *revocation.Cache.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) bool
}

// ValidateNotRevoked validates token and additionally rejects it if its
// jti has been revoked.
func (m *Manager) ValidateNotRevoked(ctx context.Context, token string, revocations RevocationChecker) (Claims, error) {
	claims, err := m.Validate(token)
	if err != nil {
		return claims, err
	}
	if revocations != nil && revocations.IsRevoked(ctx, claims.JTI) {
		return claims, ErrTokenRevoked
	}
	return claims, nil
}

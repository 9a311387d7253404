package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/ironlayer/ironlayer/internal/auth"
)

// refreshSession is one outstanding refresh token. No persisted session
// store exists anywhere else in this module (the documented surfaces stop
// at issuing/validating access tokens); refresh rotation needs server-side
// state to revoke on logout, so this keeps the minimal state for that in
// memory, mutex-guarded like revocation.Cache and reconcile.Scheduler.
// A restart invalidates every outstanding refresh token, which is
// acceptable for a single-process deployment and matches the "no database
// session sharing across requests" shared-resource policy.
type refreshSession struct {
	TenantID  string
	UserID    string
	Role      auth.Role
	ExpiresAt time.Time
}

type refreshTokenStore struct {
	mu    sync.Mutex
	byTok map[string]refreshSession
}

func newRefreshTokenStore() *refreshTokenStore {
	return &refreshTokenStore{byTok: make(map[string]refreshSession)}
}

// issue mints a new opaque refresh token and records its session. It does
// not remove tokens issued earlier; rotation on use happens in consume.
func (s *refreshTokenStore) issue(tenantID, userID string, role auth.Role, ttl time.Duration) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTok[token] = refreshSession{
		TenantID:  tenantID,
		UserID:    userID,
		Role:      role,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	return token, nil
}

// consume validates and rotates a refresh token in one step: on success the
// old token is deleted and a new one (with the same TTL window from now) is
// returned alongside the session it belonged to.
func (s *refreshTokenStore) consume(token string, ttl time.Duration) (refreshSession, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byTok[token]
	if !ok {
		return refreshSession{}, "", false
	}
	delete(s.byTok, token)
	if time.Now().UTC().After(sess.ExpiresAt) {
		return refreshSession{}, "", false
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return refreshSession{}, "", false
	}
	newToken := hex.EncodeToString(raw)
	sess.ExpiresAt = time.Now().UTC().Add(ttl)
	s.byTok[newToken] = sess
	return sess, newToken, true
}

// peek validates a refresh token without rotating it, for GET /auth/session.
func (s *refreshTokenStore) peek(token string) (refreshSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byTok[token]
	if !ok || time.Now().UTC().After(sess.ExpiresAt) {
		return refreshSession{}, false
	}
	return sess, true
}

// revoke deletes a refresh token outright, used by logout.
func (s *refreshTokenStore) revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTok, token)
}

const refreshCookieName = "ironlayer_refresh"

// refreshCookiePath scopes the cookie to the auth route group this
// deployment actually serves (there is no /api/v1 prefix on the mux).
const refreshCookiePath = "/auth"

func setRefreshCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

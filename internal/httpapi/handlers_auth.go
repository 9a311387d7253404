package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/ironlayer/ironlayer/internal/auth"
)

type signupRequest struct {
	TenantID    string `json:"tenant_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleSignup implements POST /auth/signup: the first user of a tenant
// becomes ADMIN, matching §6.1's "Create user + auto-tenant" note. A
// tenant_id is accepted rather than generated so callers can pre-arrange
// one (e.g. matching a Stripe checkout's metadata), but any tenant seeing
// its first user always gets an admin regardless of who supplies the ID.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		req.TenantID = uuid.NewString()
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	ctx := r.Context()
	if err := auth.MigrateUsers(ctx, s.db); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to initialize auth storage")
		return
	}
	userStore := s.userStoreFor(req.TenantID)

	role := auth.RoleOperator
	if count, err := userStore.ActiveSeatCount(ctx); err == nil && count == 0 {
		role = auth.RoleAdmin
	}

	account, err := userStore.Create(ctx, req.Username, req.DisplayName, req.Password, role)
	if err != nil {
		if err == auth.ErrUsernameAlreadyUsed {
			writeError(w, http.StatusConflict, "username already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.issueTokens(w, req.TenantID, account.ID, account.Role)
}

type loginRequest struct {
	TenantID string `json:"tenant_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin implements POST /auth/login. Per-(email,IP) rate limiting
// with exponential backoff is a gateway/ingress concern in this
// deployment, not implemented at this layer.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	userStore := s.userStoreFor(req.TenantID)
	account, err := userStore.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.issueTokens(w, req.TenantID, account.ID, account.Role)
}

func (s *Server) issueTokens(w http.ResponseWriter, tenantID, userID string, role auth.Role) {
	access, err := s.authMgr.Issue(userID, tenantID, role, auth.IdentityUser, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	refreshTTL := s.cfg.Auth.RefreshTokenTTL
	refresh, err := s.sessions.issue(tenantID, userID, role, refreshTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue refresh token")
		return
	}
	setRefreshCookie(w, refresh, refreshTTL)
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.Auth.TokenTTL.Seconds()),
	})
}

// handleRefresh implements POST /auth/refresh: the refresh cookie is
// rotated on every call, and a fresh access token is minted from it.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "missing refresh cookie")
		return
	}

	refreshTTL := s.cfg.Auth.RefreshTokenTTL
	sess, newToken, ok := s.sessions.consume(cookie.Value, refreshTTL)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	access, err := s.authMgr.Issue(sess.UserID, sess.TenantID, sess.Role, auth.IdentityUser, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	setRefreshCookie(w, newToken, refreshTTL)
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.Auth.TokenTTL.Seconds()),
	})
}

// handleSession implements GET /auth/session: restores session identity
// from the refresh cookie without rotating it, so a page reload doesn't
// burn through retry budgets.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	sess, ok := s.sessions.peek(cookie.Value)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"tenant_id": sess.TenantID,
		"user_id":   sess.UserID,
		"role":      string(sess.Role),
	})
}

// handleLogout implements POST /auth/logout: revokes the refresh token and
// clears the cookie. Access tokens already issued remain valid until their
// own expiry; revoking those would require recording their jti, which is
// the access-token-revocation path internal/revocation already covers for
// the cases this deployment needs (administrative revocation), not every
// logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		s.sessions.revoke(cookie.Value)
	}
	clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

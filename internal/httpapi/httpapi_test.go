package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/zapr"
	"github.com/ironlayer/ironlayer/internal/auth"
	"github.com/ironlayer/ironlayer/internal/config"
	"github.com/ironlayer/ironlayer/internal/repository"
	"github.com/ironlayer/ironlayer/internal/revocation"
	"go.uber.org/zap/zaptest"

	_ "modernc.org/sqlite"
)

type neverRevoked struct{}

func (neverRevoked) IsRevoked(ctx context.Context, jti string) (bool, error) { return false, nil }

func newTestServer(t *testing.T) (*Server, *sql.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "httpapi.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Auth.Mode = config.AuthModeDevelopment
	cfg.Auth.TokenTTL = time.Hour
	cfg.Auth.RefreshTokenTTL = 24 * time.Hour

	authMgr := auth.NewManager([]byte("test-secret"), "ironlayer-test", cfg.Auth.TokenTTL)

	srv := NewServer(cfg, Deps{
		DB:          db,
		Dialect:     repository.DialectSQLite,
		Logger:      zaptest.NewLogger(t),
		AuthMgr:     authMgr,
		Revocations: revocation.New(neverRevoked{}, zapr.NewLogger(zaptest.NewLogger(t))),
	})
	return srv, db
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func doRequest(mux http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSignupFirstUserBecomesAdmin(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doRequest(router, http.MethodPost, "/auth/signup", "", signupRequest{
		TenantID: "tenant-a",
		Username: "alice",
		Password: "correct horse battery staple",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("signup status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp authResponse
	decodeJSON(t, rec, &resp)
	if resp.AccessToken == "" {
		t.Fatal("expected a non-empty access token")
	}
	claims, err := srv.authMgr.Validate(resp.AccessToken)
	if err != nil {
		t.Fatalf("Validate(access token) error = %v", err)
	}
	if claims.Role != auth.RoleAdmin {
		t.Fatalf("first user's role = %q, want %q", claims.Role, auth.RoleAdmin)
	}
}

func TestRequireAuthRejectsMissingBearer(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doRequest(router, http.MethodGet, "/models", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthAllowsPublicPaths(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doRequest(router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWithPermissionRejectsInsufficientRole(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	signup := doRequest(router, http.MethodPost, "/auth/signup", "", signupRequest{
		TenantID: "tenant-b",
		Username: "admin",
		Password: "correct horse battery staple",
	})
	var adminResp authResponse
	decodeJSON(t, signup, &adminResp)

	// Second signup in the same tenant is not the first user, so it lands
	// as an operator, which lacks VIEW_AUDIT.
	secondSignup := doRequest(router, http.MethodPost, "/auth/signup", "", signupRequest{
		TenantID: "tenant-b",
		Username: "operator",
		Password: "correct horse battery staple",
	})
	var operatorResp authResponse
	decodeJSON(t, secondSignup, &operatorResp)

	rec := doRequest(router, http.MethodGet, "/audit", operatorResp.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body = %s", rec.Code, rec.Body.String())
	}
}

func TestBillingPlansIsPublicAndStatic(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doRequest(router, http.MethodGet, "/billing/plans", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var plans []billingPlan
	decodeJSON(t, rec, &plans)
	if len(plans) != 3 {
		t.Fatalf("len(plans) = %d, want 3", len(plans))
	}
}

func TestListModelsReturnsEmptySliceForFreshTenant(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	signup := doRequest(router, http.MethodPost, "/auth/signup", "", signupRequest{
		TenantID: "tenant-c",
		Username: "alice",
		Password: "correct horse battery staple",
	})
	var resp authResponse
	decodeJSON(t, signup, &resp)

	rec := doRequest(router, http.MethodGet, "/models", resp.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRefreshRotatesCookie(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	signup := doRequest(router, http.MethodPost, "/auth/signup", "", signupRequest{
		TenantID: "tenant-d",
		Username: "alice",
		Password: "correct horse battery staple",
	})
	cookies := signup.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a refresh cookie to be set on signup")
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %s", rec.Code, rec.Body.String())
	}

	newCookies := rec.Result().Cookies()
	if len(newCookies) == 0 {
		t.Fatal("expected a rotated refresh cookie")
	}
	if newCookies[0].Value == cookies[0].Value {
		t.Fatal("refresh token was not rotated")
	}
}

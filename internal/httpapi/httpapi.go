// Package httpapi assembles every IronLayer subsystem behind the §6.1 HTTP
// surface: route registration, bearer-token authentication, and the
// per-tenant store caches each handler needs. main() builds a Server and
// calls ListenAndServe, done.
package httpapi

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/ironlayer/ironlayer/internal/analytics"
	"github.com/ironlayer/ironlayer/internal/auth"
	"github.com/ironlayer/ironlayer/internal/billing"
	"github.com/ironlayer/ironlayer/internal/config"
	"github.com/ironlayer/ironlayer/internal/environment"
	"github.com/ironlayer/ironlayer/internal/executor"
	"github.com/ironlayer/ironlayer/internal/license"
	"github.com/ironlayer/ironlayer/internal/metering"
	"github.com/ironlayer/ironlayer/internal/model"
	"github.com/ironlayer/ironlayer/internal/quota"
	"github.com/ironlayer/ironlayer/internal/repository"
	"github.com/ironlayer/ironlayer/internal/revocation"
	"github.com/ironlayer/ironlayer/internal/webhook"
	"go.uber.org/zap"
)

// Version info injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Server is the assembled IronLayer control plane.
type Server struct {
	cfg     config.Config
	db      *sql.DB
	dialect repository.Dialect
	logger  *zap.Logger

	authMgr      *auth.Manager
	revocations  *revocation.Cache
	quotaSvc     *quota.Service
	licenseMgr   *license.Manager
	billingSvc   *billing.Service
	loader       *model.Loader
	exec         executor.Executor
	metering     *metering.Collector
	webhookSvc   *webhook.Service
	analyticsSvc *analytics.Service
	envSvc       *environment.Service

	sessions *refreshTokenStore

	mu     sync.Mutex
	stores map[string]*repository.Store
	users  map[string]*auth.UserStore
}

// Deps bundles the already-constructed subsystems NewServer wires
// together. DB, Dialect, AuthMgr and Revocations are required. The rest may
// be nil: Logger (a no-op logger is used), Exec (nil runs with a no-op
// executor), Metering (nil disables telemetry collection), QuotaSvc (quota
// checks are skipped), LicenseMgr (no licensed feature is enabled and the
// tier comes from billing), BillingSvc (POST /billing/webhooks is not
// registered), and WebhookSvc, AnalyticsSvc and EnvSvc (their handlers
// answer 501).
type Deps struct {
	DB           *sql.DB
	Dialect      repository.Dialect
	Logger       *zap.Logger
	AuthMgr      *auth.Manager
	Revocations  *revocation.Cache
	QuotaSvc     *quota.Service
	LicenseMgr   *license.Manager
	BillingSvc   *billing.Service
	Exec         executor.Executor
	Metering     *metering.Collector
	WebhookSvc   *webhook.Service
	AnalyticsSvc *analytics.Service
	EnvSvc       *environment.Service
}

// NewServer builds a Server. The per-tenant repository.Store/auth.UserStore
// caches start empty and are populated lazily, mirroring the
// sync.Mutex-guarded lazy-cache idiom already used by revocation.Cache and
// reconcile.Scheduler rather than a sync.Map.
func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:         cfg,
		db:          deps.DB,
		dialect:     deps.Dialect,
		logger:      logger,
		authMgr:      deps.AuthMgr,
		revocations:  deps.Revocations,
		quotaSvc:     deps.QuotaSvc,
		licenseMgr:   deps.LicenseMgr,
		billingSvc:   deps.BillingSvc,
		loader:       model.NewLoader(logr.Discard()),
		exec:         deps.Exec,
		metering:     deps.Metering,
		webhookSvc:   deps.WebhookSvc,
		analyticsSvc: deps.AnalyticsSvc,
		envSvc:       deps.EnvSvc,
		sessions:     newRefreshTokenStore(),
		stores:       make(map[string]*repository.Store),
		users:        make(map[string]*auth.UserStore),
	}
}

// storeFor returns the tenant-bound repository.Store for tenantID,
// opening (and migrating) it on first use.
func (s *Server) storeFor(ctx context.Context, tenantID string) (*repository.Store, error) {
	s.mu.Lock()
	if st, ok := s.stores[tenantID]; ok {
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	st, err := repository.New(ctx, s.db, s.dialect, tenantID)
	if err != nil {
		return nil, fmt.Errorf("httpapi: open store for tenant %s: %w", tenantID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.stores[tenantID]; ok {
		return existing, nil
	}
	s.stores[tenantID] = st
	return st, nil
}

// userStoreFor returns the tenant-bound auth.UserStore for tenantID.
func (s *Server) userStoreFor(tenantID string) *auth.UserStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if us, ok := s.users[tenantID]; ok {
		return us
	}
	us := auth.NewUserStore(s.db, tenantID)
	s.users[tenantID] = us
	return us
}

// Router builds the registered http.Handler for the whole server.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.requireAuth(mux)
}

// Run starts an HTTP server on cfg.ListenAddr and blocks until ctx is
// cancelled, then gracefully shuts down.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("httpapi: listening", zap.String("addr", s.cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

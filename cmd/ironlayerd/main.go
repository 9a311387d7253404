// ironlayerd is the IronLayer control plane daemon.
//
// Runs as a standalone binary. Serves the full §6.1 HTTP API: plan
// generation and application, model lineage and impact, authentication,
// billing webhooks, and (Enterprise) audit and reconciliation. main()
// builds an httpapi.Server and calls Run, done.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/ironlayer/ironlayer/internal/analytics"
	"github.com/ironlayer/ironlayer/internal/auth"
	"github.com/ironlayer/ironlayer/internal/billing"
	"github.com/ironlayer/ironlayer/internal/config"
	"github.com/ironlayer/ironlayer/internal/environment"
	"github.com/ironlayer/ironlayer/internal/executor"
	"github.com/ironlayer/ironlayer/internal/httpapi"
	"github.com/ironlayer/ironlayer/internal/license"
	"github.com/ironlayer/ironlayer/internal/metering"
	"github.com/ironlayer/ironlayer/internal/quota"
	"github.com/ironlayer/ironlayer/internal/reconcile"
	"github.com/ironlayer/ironlayer/internal/repository"
	"github.com/ironlayer/ironlayer/internal/revocation"
	"github.com/ironlayer/ironlayer/internal/webhook"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.Load(os.Getenv("IRONLAYER_CONFIG_FILE"))
	if err != nil {
		zap.S().Fatalf("failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		zap.S().Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	httpapi.Version, httpapi.Commit, httpapi.Date = version, commit, date

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, dialect, err := openDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	bootstrap, err := repository.New(ctx, db, dialect, "system")
	if err != nil {
		logger.Fatal("failed to run schema migrations", zap.Error(err))
	}
	users := auth.NewUserStore(db, "system")
	if err := auth.MigrateUsers(ctx, db); err != nil {
		logger.Fatal("failed to run auth migrations", zap.Error(err))
	}

	if !cfg.Auth.RequiresSecret() {
		logger.Warn("running in development auth mode; do not use in production")
	}
	authMgr := auth.NewManager([]byte(cfg.Auth.JWTSecret), "ironlayerd", cfg.Auth.TokenTTL)

	revocations := revocation.New(bootstrap, zapr.NewLogger(logger))

	usage := repository.NewUsageAdapter(bootstrap, users)
	quotaSvc := quota.New(usage, quota.NoopLocker{}, zapr.NewLogger(logger))

	licenseMgr := buildLicenseManager(cfg, logger)

	billingSvc := billing.NewService(db, dialect, logger)

	sink := bootstrap
	meteringCollector := metering.New(sink, zapr.NewLogger(logger))
	meteringCollector.StartBackgroundFlush(ctx)
	defer meteringCollector.StopBackgroundFlush()

	var webhookSvc *webhook.Service
	if cfg.WebhookSecretKey != "" {
		webhookSvc, err = webhook.NewService(db, dialect, []byte(cfg.WebhookSecretKey), logger)
		if err != nil {
			logger.Fatal("failed to build webhook service", zap.Error(err))
		}
	} else {
		logger.Warn("IRONLAYER_WEBHOOK_SECRET_KEY not set; github webhook receiver disabled")
	}

	analyticsSvc, err := analytics.NewService(db, dialect)
	if err != nil {
		logger.Fatal("failed to build analytics service", zap.Error(err))
	}

	envSvc := environment.NewService(db, dialect)

	srv := httpapi.NewServer(cfg, httpapi.Deps{
		DB:           db,
		Dialect:      dialect,
		Logger:       logger,
		AuthMgr:      authMgr,
		Revocations:  revocations,
		QuotaSvc:     quotaSvc,
		LicenseMgr:   licenseMgr,
		BillingSvc:   billingSvc,
		Exec:         executor.NewNullExecutor(repository.RunSuccess),
		Metering:     meteringCollector,
		WebhookSvc:   webhookSvc,
		AnalyticsSvc: analyticsSvc,
		EnvSvc:       envSvc,
	})

	if cfg.Reconcile.Enabled {
		scheduleStore, err := repository.NewScheduleStore(db, dialect)
		if err != nil {
			logger.Fatal("failed to build reconciliation schedule store", zap.Error(err))
		}
		// reconcile.Service is constructed here only to satisfy NewScheduler's
		// signature; the actual reconciliation pass for each due schedule
		// runs through srv.ReconcileTenantHook below, which opens the right
		// tenant's store and executor — something this package-level Service
		// has no tenant context to do.
		reconcileSvc := reconcile.NewService(noopReconcileExecutor{}, zapr.NewLogger(logger))
		scheduler := reconcile.NewScheduler(
			scheduleReaderAdapter{store: scheduleStore},
			reconcileSvc,
			cfg.Reconcile.Interval,
			zapr.NewLogger(logger),
			reconcile.WithReconciler(srv.ReconcileTenantHook),
		)
		go scheduler.Run(ctx)
		logger.Info("reconciliation scheduler started",
			zap.Duration("poll_interval", cfg.Reconcile.Interval))
	}

	logger.Info("starting ironlayerd",
		zap.String("addr", cfg.ListenAddr),
		zap.String("version", version),
		zap.String("dialect", string(dialect)),
	)
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shut down cleanly")
}

// scheduleReaderAdapter adapts *repository.ScheduleStore (which speaks
// repository.ReconciliationSchedule) to reconcile.SchedulesReader (which
// speaks reconcile.Schedule). The two types mirror each other field-for-
// field; internal/repository stays independent of internal/reconcile so the
// conversion lives here, at the one place both are wired together.
type scheduleReaderAdapter struct {
	store *repository.ScheduleStore
}

func (a scheduleReaderAdapter) DueSchedules(ctx context.Context, now time.Time) ([]reconcile.Schedule, error) {
	rows, err := a.store.DueSchedules(ctx, now)
	if err != nil {
		return nil, err
	}
	schedules := make([]reconcile.Schedule, 0, len(rows))
	for _, row := range rows {
		var lastRun time.Time
		if row.LastRunAt != nil {
			lastRun = *row.LastRunAt
		}
		schedules = append(schedules, reconcile.Schedule{
			ID:        row.ScheduleID,
			TenantID:  row.TenantID,
			CronExpr:  row.CronExpr,
			Enabled:   row.Enabled,
			NextRunAt: row.NextRunAt,
			LastRunAt: lastRun,
		})
	}
	return schedules, nil
}

func (a scheduleReaderAdapter) UpdateScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	return a.store.UpdateScheduleRun(ctx, id, lastRun, nextRun)
}

// noopReconcileExecutor satisfies reconcile.Executor for the scheduler's
// required but otherwise unused top-level Service (see its construction
// site in main). It is never exercised: tick() reconciles through
// reconcile.WithReconciler, not through Service.TriggerReconciliation.
type noopReconcileExecutor struct{}

func (noopReconcileExecutor) VerifyRun(ctx context.Context, externalRunID string) (reconcile.RunStatus, error) {
	return reconcile.StatusSuccess, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}

func openDatabase(cfg config.Config) (*sql.DB, repository.Dialect, error) {
	dialect := repository.Dialect(cfg.Dialect)
	switch dialect {
	case repository.DialectPostgres:
		db, err := sql.Open("pgx", cfg.DSN)
		return db, dialect, err
	case repository.DialectMySQL:
		db, err := sql.Open("mysql", cfg.DSN)
		return db, dialect, err
	case repository.DialectSQLite, "":
		dialect = repository.DialectSQLite
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, dialect, fmt.Errorf("create data dir: %w", err)
		}
		path := cfg.DataDir + "/ironlayer.db"
		db, err := sql.Open("sqlite", path)
		return db, dialect, err
	default:
		return nil, dialect, fmt.Errorf("ironlayerd: unsupported dialect %q", cfg.Dialect)
	}
}

// buildLicenseManager loads the Ed25519 public key this deployment trusts
// (IRONLAYER_LICENSE_PUBKEY, hex-encoded) and the license file cfg points
// at, if any. A missing or unreadable license, or one that fails
// verification against the configured key, leaves the manager at the
// community tier; with no key configured the file is installed unverified.
// It is never fatal to boot without one.
func buildLicenseManager(cfg config.Config, logger *zap.Logger) *license.Manager {
	var pub []byte
	if hexKey := os.Getenv("IRONLAYER_LICENSE_PUBKEY"); hexKey != "" {
		decoded, err := hex.DecodeString(hexKey)
		if err != nil {
			logger.Warn("invalid IRONLAYER_LICENSE_PUBKEY, ignoring", zap.Error(err))
		} else {
			pub = decoded
		}
	}
	mgr := license.NewManager(pub)

	if !cfg.HasLicense() {
		return mgr
	}
	raw, err := os.ReadFile(cfg.LicensePath)
	if err != nil {
		logger.Warn("failed to read license file, running at community tier", zap.Error(err))
		return mgr
	}
	var f license.File
	if err := json.Unmarshal(raw, &f); err != nil {
		logger.Warn("failed to parse license file, running at community tier", zap.Error(err))
		return mgr
	}
	if err := mgr.Load(f, time.Now()); err != nil {
		logger.Warn("license verification failed, running at community tier", zap.Error(err))
	}
	return mgr
}


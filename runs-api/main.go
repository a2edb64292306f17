package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sjkd23/console-sub003/internal/access"
	"github.com/sjkd23/console-sub003/internal/app"
	"github.com/sjkd23/console-sub003/internal/catalog"
	"github.com/sjkd23/console-sub003/internal/discord"
	"github.com/sjkd23/console-sub003/internal/effects"
	"github.com/sjkd23/console-sub003/internal/executor"
	"github.com/sjkd23/console-sub003/internal/lock"
	"github.com/sjkd23/console-sub003/internal/platform/auditlog"
	"github.com/sjkd23/console-sub003/internal/platform/auth"
	"github.com/sjkd23/console-sub003/internal/platform/env"
	"github.com/sjkd23/console-sub003/internal/platform/httpserver"
	"github.com/sjkd23/console-sub003/internal/platform/metrics"
	"github.com/sjkd23/console-sub003/internal/platform/objectstore"
	"github.com/sjkd23/console-sub003/internal/platform/postgres"
	"github.com/sjkd23/console-sub003/internal/quota"
	pgrepo "github.com/sjkd23/console-sub003/internal/repo/postgres"
	"github.com/sjkd23/console-sub003/internal/service/runs"
)

const serviceName = "runs-api"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("RUNS_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("RUNS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	autoMigrate, err := env.Bool("RUNS_AUTO_MIGRATE", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	screenshotsEnabled, err := env.Bool("RUNS_SCREENSHOTS_ENABLED", true)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	effectTimeout, err := env.Duration("RUNS_EFFECT_TIMEOUT", effects.DefaultEffectTimeout)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dungeons, err := catalog.Load(env.String("RUNS_DUNGEON_CATALOG", ""))
	if err != nil {
		logger.Error("invalid dungeon catalog", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	lockCfg, err := lock.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid lock config", "error", err)
		os.Exit(2)
	}
	execCfg, err := executor.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid executor config", "error", err)
		os.Exit(2)
	}
	discordCfg, err := discord.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid discord config", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if autoMigrate {
		if err := pgrepo.Migrate(ctx, db); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("schema migrated", "migrations", len(pgrepo.MigrationNames()))
	}

	m := metrics.New()

	locks, err := app.OpenLocks(ctx, lockCfg, logger)
	if err != nil {
		logger.Error("lock backend unavailable", "backend", lockCfg.Backend, "error", err)
		os.Exit(1)
	}
	defer func() { _ = locks.Close() }()

	readiness := []httpserver.ReadinessCheck{
		{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		},
	}
	if locks.Ping != nil {
		readiness = append(readiness, httpserver.ReadinessCheck{Name: "redis", Check: auth.WithTimeout(750*time.Millisecond, locks.Ping)})
	}

	var screenshots runs.ScreenshotStore
	var maxUpload int64
	if screenshotsEnabled {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		storeClient, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		store, err := objectstore.NewScreenshots(storeCfg, storeClient)
		if err != nil {
			logger.Error("screenshot store init failed", "error", err)
			os.Exit(2)
		}
		screenshots = store
		maxUpload = store.MaxUploadBytes()
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
			},
		})
	}

	runStore := pgrepo.NewRunStore(db)
	settingsStore := pgrepo.NewGuildSettingsStore(db)
	quotaStore := pgrepo.NewQuotaStore(db)
	evaluator := quota.NewEvaluator(quotaStore, dungeons, logger)

	exec := executor.New(logger, append(execCfg.Options(), executor.WithMetrics(m))...)
	exec.Start()

	registry := effects.NewRegistry(m)
	if !discordCfg.Enabled() {
		logger.Warn("discord side effects disabled", "env", "RUNS_DISCORD_BOT_TOKEN")
	}
	coordinators, err := app.Coordinators(app.EffectDeps{
		Logger:   logger,
		Discord:  discordCfg,
		Pings:    runStore,
		Quota:    evaluator,
		Executor: exec,
		Audit:    effects.PostgresAuditSink{DB: db},
		Registry: registry,
	})
	if err != nil {
		logger.Error("discord session init failed", "error", err)
		os.Exit(2)
	}
	fanout := effects.NewFanout(logger, m, coordinators...).WithTimeout(effectTimeout)

	svc, err := runs.New(runs.Deps{
		Runs:        runStore,
		Gate:        access.NewGate(access.SettingsResolver{Settings: settingsStore, FallbackRole: env.String("RUNS_DEFAULT_ORGANIZER_ROLE_ID", "")}),
		Locks:       locks.Manager,
		Catalog:     dungeons,
		Effects:     fanout,
		Notifier:    registry,
		Screenshots: screenshots,
		Logger:      logger,
		Metrics:     m,
		LockTTL:     lockCfg.TTL,
	})
	if err != nil {
		logger.Error("service init failed", "error", err)
		os.Exit(2)
	}

	authenticator, err := app.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, readiness...))
	mux.Handle("GET /metrics", m.Handler())

	api := newRunsAPI(logger, svc, settingsStore, evaluator, dungeons, registry, maxUpload)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.StaffSettingsAuthorizer(authCfg.StaffRoles),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, serviceName, event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz", "/metrics"},
	}.Wrap(httpserver.Instrument(m, mux))

	cfg := httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, logger, cfg, httpserver.Wrap(logger, serviceName, handler))
	})
	if locks.Memory != nil {
		g.Go(func() error {
			return locks.Memory.Run(gctx, lockCfg.SweepInterval)
		})
	}

	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), execCfg.ShutdownTimeout)
	defer cancel()
	if err := exec.Stop(stopCtx); err != nil {
		logger.Warn("executor did not drain", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		logger.Error("server failed", "error", runErr)
		os.Exit(1)
	}
}

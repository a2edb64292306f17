package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sjkd23/console-sub003/internal/access"
	"github.com/sjkd23/console-sub003/internal/app"
	"github.com/sjkd23/console-sub003/internal/catalog"
	"github.com/sjkd23/console-sub003/internal/discord"
	"github.com/sjkd23/console-sub003/internal/effects"
	"github.com/sjkd23/console-sub003/internal/executor"
	"github.com/sjkd23/console-sub003/internal/lock"
	"github.com/sjkd23/console-sub003/internal/platform/env"
	"github.com/sjkd23/console-sub003/internal/platform/postgres"
	"github.com/sjkd23/console-sub003/internal/quota"
	"github.com/sjkd23/console-sub003/internal/repo"
	pgrepo "github.com/sjkd23/console-sub003/internal/repo/postgres"
	"github.com/sjkd23/console-sub003/internal/service/runs"
)

// defaultDeps wires commands to the same environment runs-api reads.
func defaultDeps(logger *slog.Logger) *cliDeps {
	dungeons, err := catalog.Load(env.String("RUNS_DUNGEON_CATALOG", ""))
	if err != nil {
		logger.Warn("dungeon catalog unavailable, using defaults", "error", err)
		dungeons = catalog.Default()
	}

	return &cliDeps{
		requiresScreenshot: dungeons.RequiresScreenshot,
		migrate: func(ctx context.Context) ([]string, error) {
			db, err := openDB(ctx)
			if err != nil {
				return nil, err
			}
			defer func() { _ = db.Close() }()
			if err := pgrepo.Migrate(ctx, db); err != nil {
				return nil, err
			}
			return pgrepo.MigrationNames(), nil
		},
		openRuns: func(ctx context.Context) (repo.RunRepository, func(), error) {
			db, err := openDB(ctx)
			if err != nil {
				return nil, nil, err
			}
			return pgrepo.NewRunStore(db), func() { _ = db.Close() }, nil
		},
		openLocks: func(ctx context.Context) (app.Locks, error) {
			cfg, err := lock.ConfigFromEnv()
			if err != nil {
				return app.Locks{}, err
			}
			return app.OpenLocks(ctx, cfg, logger)
		},
		openService: func(ctx context.Context) (transitioner, func(), error) {
			return openService(ctx, logger, dungeons)
		},
	}
}

func openDB(ctx context.Context) (*sql.DB, error) {
	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}
	return postgres.Open(ctx, cfg)
}

// openService builds a run service with the side effects runs-api runs,
// minus subscriber notification. The close func waits for queued quota
// awards.
func openService(ctx context.Context, logger *slog.Logger, dungeons *catalog.Catalog) (transitioner, func(), error) {
	lockCfg, err := lock.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	discordCfg, err := discord.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	execCfg, err := executor.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}

	db, err := openDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	locks, err := app.OpenLocks(ctx, lockCfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if locks.Memory != nil {
		logger.Warn("memory lock backend does not coordinate with runs-api", "env", "RUNS_LOCK_BACKEND")
	}

	runStore := pgrepo.NewRunStore(db)
	settingsStore := pgrepo.NewGuildSettingsStore(db)
	evaluator := quota.NewEvaluator(pgrepo.NewQuotaStore(db), dungeons, logger)
	exec := executor.New(logger, execCfg.Options()...)
	exec.Start()

	closeAll := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), execCfg.ShutdownTimeout)
		defer cancel()
		if err := exec.Stop(stopCtx); err != nil {
			logger.Warn("executor stop", "error", err)
		}
		_ = locks.Close()
		_ = db.Close()
	}

	coordinators, err := app.Coordinators(app.EffectDeps{
		Logger:   logger,
		Discord:  discordCfg,
		Pings:    runStore,
		Quota:    evaluator,
		Executor: exec,
		Audit:    effects.PostgresAuditSink{DB: db},
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	svc, err := runs.New(runs.Deps{
		Runs:    runStore,
		Gate:    access.NewGate(access.SettingsResolver{Settings: settingsStore, FallbackRole: env.String("RUNS_DEFAULT_ORGANIZER_ROLE_ID", "")}),
		Locks:   locks.Manager,
		Catalog: dungeons,
		Effects: effects.NewFanout(logger, nil, coordinators...).WithTimeout(effects.DefaultEffectTimeout),
		Logger:  logger,
		LockTTL: lockCfg.TTL,
		Now:     func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return svc, closeAll, nil
}

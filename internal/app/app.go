// Package app builds the components runs-api and raidctl share.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sjkd23/console-sub003/internal/discord"
	"github.com/sjkd23/console-sub003/internal/effects"
	"github.com/sjkd23/console-sub003/internal/lock"
	"github.com/sjkd23/console-sub003/internal/platform/auth"
)

// Locks is a lock manager plus what it needs to run and shut down.
type Locks struct {
	Manager lock.Manager
	// Memory is set for the in-process backend so callers can run its
	// sweeper.
	Memory *lock.Memory
	// Ping checks backend reachability; nil for memory.
	Ping  func(ctx context.Context) error
	Close func() error
}

func OpenLocks(ctx context.Context, cfg lock.Config, logger *slog.Logger) (Locks, error) {
	switch cfg.Backend {
	case lock.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return Locks{}, fmt.Errorf("redis ping: %w", err)
		}
		return Locks{
			Manager: lock.NewRedis(client, cfg.RedisKeyPrefix, logger),
			Ping: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			Close: client.Close,
		}, nil
	default:
		m := lock.NewMemory(logger)
		return Locks{
			Manager: m,
			Memory:  m,
			Close:   func() error { return nil },
		}, nil
	}
}

// NewAuthenticator returns the authenticator for cfg.Mode. OIDC mode also
// accepts signed internal headers so raidbot keeps working.
func NewAuthenticator(ctx context.Context, cfg auth.Config) (auth.Authenticator, error) {
	switch cfg.Mode {
	case auth.ModeDev:
		return auth.NewDevAuthenticator(cfg), nil
	case auth.ModeOIDC:
		headers, err := auth.NewGatewayHeadersAuthenticator(cfg.InternalSecret)
		if err != nil {
			return nil, err
		}
		oidcAuth, err := auth.NewOIDCAuthenticator(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return auth.Chain{headers, oidcAuth}, nil
	default:
		return auth.NewGatewayHeadersAuthenticator(cfg.InternalSecret)
	}
}

// EffectDeps are the collaborators run side effects are built from. Zero
// fields disable the matching coordinator.
type EffectDeps struct {
	Logger   *slog.Logger
	Discord  discord.Config
	Pings    effects.PingRecorder
	Quota    effects.QuotaAwarder
	Executor effects.TaskSubmitter
	Audit    effects.AuditSink
	Registry *effects.Registry
}

// Coordinators returns the side effects in the order they run: Discord
// cleanup and pings first, then quota, audit and subscriber notification.
func Coordinators(d EffectDeps) ([]effects.Coordinator, error) {
	var out []effects.Coordinator
	if d.Discord.Enabled() {
		session, err := discord.NewSession(d.Discord)
		if err != nil {
			return nil, err
		}
		client := discord.NewClient(session, d.Logger)
		out = append(out, effects.RoleCleanup{Roles: client, Logger: d.Logger})
		if d.Pings != nil {
			out = append(out, effects.PingDispatch{Pinger: client, Recorder: d.Pings})
		}
	}
	if d.Quota != nil && d.Executor != nil {
		out = append(out, effects.QuotaTrigger{Quota: d.Quota, Executor: d.Executor})
	}
	if d.Audit != nil {
		out = append(out, effects.Audit{Sink: d.Audit})
	}
	if d.Registry != nil {
		out = append(out, effects.Notify{Registry: d.Registry})
	}
	return out, nil
}

package lock

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sjkd23/console-sub003/internal/platform/env"
)

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

type Config struct {
	Backend       Backend
	TTL           time.Duration
	SweepInterval time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
}

func ConfigFromEnv() (Config, error) {
	ttl, err := env.Duration("RUNS_LOCK_TTL", DefaultTTL)
	if err != nil {
		return Config{}, err
	}
	sweep, err := env.Duration("RUNS_LOCK_SWEEP_INTERVAL", DefaultSweepInterval)
	if err != nil {
		return Config{}, err
	}
	db, err := env.Int("RUNS_REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Backend:        Backend(strings.ToLower(env.String("RUNS_LOCK_BACKEND", string(BackendMemory)))),
		TTL:            ttl,
		SweepInterval:  sweep,
		RedisAddr:      env.String("RUNS_REDIS_ADDR", "localhost:6379"),
		RedisPassword:  env.String("RUNS_REDIS_PASSWORD", ""),
		RedisDB:        db,
		RedisKeyPrefix: env.String("RUNS_REDIS_LOCK_PREFIX", "raids:lock:"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("RUNS_REDIS_ADDR is required for the redis lock backend")
		}
		if c.RedisDB < 0 {
			return errors.New("RUNS_REDIS_DB must be >= 0")
		}
	default:
		return fmt.Errorf("unsupported RUNS_LOCK_BACKEND %q", c.Backend)
	}
	if c.TTL <= 0 {
		return errors.New("RUNS_LOCK_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("RUNS_LOCK_SWEEP_INTERVAL must be positive")
	}
	return nil
}

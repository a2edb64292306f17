package executor

import (
	"errors"
	"time"

	"github.com/sjkd23/console-sub003/internal/platform/env"
)

type Config struct {
	Concurrency     int
	QueueSize       int
	MaxAttempts     int
	TaskTimeout     time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	ShutdownTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	var cfg Config
	var err error
	if cfg.Concurrency, err = env.Int("RUNS_EXECUTOR_CONCURRENCY", 4); err != nil {
		return Config{}, err
	}
	if cfg.QueueSize, err = env.Int("RUNS_EXECUTOR_QUEUE_SIZE", 256); err != nil {
		return Config{}, err
	}
	if cfg.MaxAttempts, err = env.Int("RUNS_EXECUTOR_MAX_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.TaskTimeout, err = env.Duration("RUNS_EXECUTOR_TASK_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BackoffInitial, err = env.Duration("RUNS_EXECUTOR_BACKOFF_INITIAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BackoffMax, err = env.Duration("RUNS_EXECUTOR_BACKOFF_MAX", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = env.Duration("RUNS_EXECUTOR_SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return errors.New("RUNS_EXECUTOR_CONCURRENCY must be positive")
	}
	if c.QueueSize <= 0 {
		return errors.New("RUNS_EXECUTOR_QUEUE_SIZE must be positive")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("RUNS_EXECUTOR_MAX_ATTEMPTS must be positive")
	}
	if c.TaskTimeout <= 0 {
		return errors.New("RUNS_EXECUTOR_TASK_TIMEOUT must be positive")
	}
	if c.BackoffMax < c.BackoffInitial {
		return errors.New("RUNS_EXECUTOR_BACKOFF_MAX must be >= RUNS_EXECUTOR_BACKOFF_INITIAL")
	}
	return nil
}

// Options converts the config into constructor options.
func (c Config) Options() []Option {
	return []Option{
		WithConcurrency(c.Concurrency),
		WithQueueSize(c.QueueSize),
		WithMaxAttempts(c.MaxAttempts),
		WithTaskTimeout(c.TaskTimeout),
		WithBackoff(ExponentialJitter{Initial: c.BackoffInitial, Max: c.BackoffMax}),
	}
}

package discord

import (
	"errors"
	"time"

	"github.com/sjkd23/console-sub003/internal/platform/env"
)

type Config struct {
	// Token is the bot token. Empty disables Discord side effects in
	// runs-api; raidbot requires it.
	Token          string
	RequestTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("RUNS_DISCORD_REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Token:          env.String("RUNS_DISCORD_BOT_TOKEN", ""),
		RequestTimeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return errors.New("RUNS_DISCORD_REQUEST_TIMEOUT must be positive")
	}
	return nil
}

func (c Config) Enabled() bool {
	return c.Token != ""
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/sjkd23/console-sub003/internal/discord"
	"github.com/sjkd23/console-sub003/internal/platform/env"
	"github.com/sjkd23/console-sub003/internal/platform/httpserver"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("RAIDBOT_HTTP_ADDR", ":8091")
	shutdownTimeout, err := env.Duration("RAIDBOT_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	actionTimeout, err := env.Duration("RAIDBOT_ACTION_TIMEOUT", 15*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	ratePerSec, err := env.Int("RAIDBOT_API_RATE_PER_SEC", 20)
	if err != nil || ratePerSec <= 0 {
		logger.Error("invalid env", "env", "RAIDBOT_API_RATE_PER_SEC", "error", err)
		os.Exit(2)
	}
	burst, err := env.Int("RAIDBOT_API_BURST", 40)
	if err != nil || burst <= 0 {
		logger.Error("invalid env", "env", "RAIDBOT_API_BURST", "error", err)
		os.Exit(2)
	}

	internalAuthSecret := env.String("RUNS_INTERNAL_AUTH_SECRET", "")
	if strings.TrimSpace(internalAuthSecret) == "" {
		logger.Error("missing internal auth secret", "env", "RUNS_INTERNAL_AUTH_SECRET")
		os.Exit(2)
	}

	discordCfg, err := discord.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid discord config", "error", err)
		os.Exit(2)
	}
	if !discordCfg.Enabled() {
		logger.Error("missing discord token", "env", "RUNS_DISCORD_BOT_TOKEN")
		os.Exit(2)
	}

	client, err := newRunsClient(
		env.String("RUNS_API_BASE_URL", "http://localhost:8080"),
		internalAuthSecret,
		&http.Client{Timeout: actionTimeout},
		rate.NewLimiter(rate.Limit(ratePerSec), burst),
	)
	if err != nil {
		logger.Error("runs-api client init failed", "error", err)
		os.Exit(2)
	}

	session, err := discord.NewSession(discordCfg)
	if err != nil {
		logger.Error("discord session init failed", "error", err)
		os.Exit(2)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	handler := &interactionHandler{api: client, logger: logger, timeout: actionTimeout}
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		handler.onInteraction(ctx, s, i)
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		logger.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	if err := session.Open(); err != nil {
		logger.Error("discord gateway unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = session.Close() }()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("raidbot"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"raidbot",
			httpserver.ReadinessCheck{
				Name: "discord",
				Check: func(context.Context) error {
					if !session.DataReady {
						return errors.New("gateway not ready")
					}
					return nil
				},
			},
		),
	)

	cfg := httpserver.Config{
		Service:         "raidbot",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "raidbot", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

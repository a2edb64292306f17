package effects

import (
	"context"
	"log/slog"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/platform/auditlog"
)

// PostgresAuditSink writes status changes to audit_events.
type PostgresAuditSink struct {
	DB auditlog.Execer
}

func (s PostgresAuditSink) LogStatusChange(ctx context.Context, change domain.RunChange) error {
	return auditlog.InsertStatusChange(ctx, s.DB, auditlog.StatusChange{
		OccurredAt:   change.At,
		GuildID:      change.Run.GuildID,
		RunID:        change.Run.ID,
		DungeonKey:   change.Run.DungeonKey,
		DungeonLabel: change.Run.DungeonLabel,
		From:         string(change.From),
		To:           string(change.To),
		ActorID:      change.ActorID,
		ActorLabel:   change.ActorLabel,
		RequestID:    change.RequestID,
	})
}

// LogAuditSink writes status changes to the structured log only.
type LogAuditSink struct {
	Logger *slog.Logger
}

func (s LogAuditSink) LogStatusChange(ctx context.Context, change domain.RunChange) error {
	s.Logger.InfoContext(ctx, "run status changed",
		"guild_id", change.Run.GuildID,
		"run_id", change.Run.ID,
		"dungeon", change.Run.DungeonKey,
		"from", string(change.From),
		"to", string(change.To),
		"actor_id", change.ActorID,
		"request_id", change.RequestID,
	)
	return nil
}

package auditlog

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// StatusChange is one committed run transition.
type StatusChange struct {
	OccurredAt   time.Time
	GuildID      string
	RunID        int64
	DungeonKey   string
	DungeonLabel string
	From         string
	To           string
	ActorID      string
	ActorLabel   string
	RequestID    string
}

func InsertStatusChange(ctx context.Context, db Execer, change StatusChange) error {
	if change.RunID <= 0 {
		return errors.New("RunID is required")
	}
	return Insert(ctx, db, Event{
		OccurredAt:   change.OccurredAt,
		GuildID:      change.GuildID,
		Actor:        change.ActorID,
		Action:       "run.status." + strings.TrimSpace(change.To),
		ResourceType: "run",
		ResourceID:   strconv.FormatInt(change.RunID, 10),
		RequestID:    change.RequestID,
		Payload: map[string]any{
			"actor_label":   change.ActorLabel,
			"dungeon_key":   change.DungeonKey,
			"dungeon_label": change.DungeonLabel,
			"from":          change.From,
			"to":            change.To,
		},
	})
}

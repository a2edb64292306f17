package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sjkd23/console-sub003/internal/repo"
)

const (
	insertQuotaEventQuery = `INSERT INTO quota_events (
			guild_id,
			user_id,
			run_id,
			kind,
			points,
			dungeon_key,
			occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (guild_id, run_id, kind) DO NOTHING`

	sumQuotaPointsQuery = `SELECT COALESCE(SUM(points), 0)
		FROM quota_events
		WHERE guild_id = $1 AND user_id = $2 AND occurred_at >= $3`
)

type QuotaStore struct {
	db DB
}

func NewQuotaStore(db DB) *QuotaStore {
	if db == nil {
		return nil
	}
	return &QuotaStore{db: db}
}

func (s *QuotaStore) InsertQuotaEvent(ctx context.Context, event repo.QuotaEvent) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("quota store not initialized")
	}
	if strings.TrimSpace(event.GuildID) == "" || strings.TrimSpace(event.UserID) == "" {
		return false, fmt.Errorf("guild id and user id are required")
	}
	if event.RunID <= 0 {
		return false, fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(event.Kind) == "" {
		return false, fmt.Errorf("kind is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		insertQuotaEventQuery,
		strings.TrimSpace(event.GuildID),
		strings.TrimSpace(event.UserID),
		event.RunID,
		strings.TrimSpace(event.Kind),
		event.Points,
		strings.TrimSpace(event.DungeonKey),
		normalizeTime(event.OccurredAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert quota event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert quota event: %w", err)
	}
	return n > 0, nil
}

func (s *QuotaStore) SumPoints(ctx context.Context, guildID, userID string, since time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("quota store not initialized")
	}
	var total int
	if err := s.db.QueryRowContext(ctx, sumQuotaPointsQuery, strings.TrimSpace(guildID), strings.TrimSpace(userID), since.UTC()).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum quota points: %w", err)
	}
	return total, nil
}

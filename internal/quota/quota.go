// Package quota awards organizer points for finished runs.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/repo"
)

const KindOrganizer = "organizer"

// PointsSource maps a dungeon key to the points its organizer earns.
type PointsSource interface {
	OrganizerPoints(dungeonKey string) int
}

type Evaluator struct {
	store  repo.QuotaRepository
	points PointsSource
	logger *slog.Logger
	now    func() time.Time
}

func NewEvaluator(store repo.QuotaRepository, points PointsSource, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: store, points: points, logger: logger, now: time.Now}
}

// AwardForEndedRun records the organizer's points for run. Repeated calls
// for the same run award once; awarded reports whether this call did.
func (e *Evaluator) AwardForEndedRun(ctx context.Context, run domain.Run) (awarded bool, err error) {
	if e == nil || e.store == nil {
		return false, errors.New("quota evaluator is not configured")
	}
	if run.Status != domain.RunStatusEnded {
		return false, fmt.Errorf("run %d is %s, not ended", run.ID, run.Status)
	}
	if run.OrganizerID == "" {
		return false, fmt.Errorf("run %d has no organizer", run.ID)
	}

	points := 0
	if e.points != nil {
		points = e.points.OrganizerPoints(run.DungeonKey)
	}
	at := e.now().UTC()
	if run.EndedAt != nil {
		at = run.EndedAt.UTC()
	}

	inserted, err := e.store.InsertQuotaEvent(ctx, repo.QuotaEvent{
		GuildID:    run.GuildID,
		UserID:     run.OrganizerID,
		RunID:      run.ID,
		Kind:       KindOrganizer,
		Points:     points,
		DungeonKey: run.DungeonKey,
		OccurredAt: at,
	})
	if err != nil {
		return false, fmt.Errorf("insert quota event: %w", err)
	}
	if !inserted {
		e.logger.Info("quota already awarded", "guild_id", run.GuildID, "run_id", run.ID, "organizer_id", run.OrganizerID)
		return false, nil
	}
	e.logger.Info("quota awarded", "guild_id", run.GuildID, "run_id", run.ID, "organizer_id", run.OrganizerID, "points", points)
	return true, nil
}

// Points sums a member's points since the given time.
func (e *Evaluator) Points(ctx context.Context, guildID, userID string, since time.Time) (int, error) {
	if e == nil || e.store == nil {
		return 0, errors.New("quota evaluator is not configured")
	}
	return e.store.SumPoints(ctx, guildID, userID, since)
}

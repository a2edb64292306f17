package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/repo"
)

const runColumns = `run_id, guild_id, dungeon_key, dungeon_label, organizer_id, organizer_label, status,
	created_at, started_at, ended_at, key_window_ends_at, join_locked, party, location, key_pops,
	chain_amount, role_id, screenshot_url, channel_id, message_id, ping_message_id, ping_channel_id, updated_at`

const (
	insertRunQuery = `INSERT INTO runs (
			guild_id,
			dungeon_key,
			dungeon_label,
			organizer_id,
			organizer_label,
			status,
			created_at,
			key_window_ends_at,
			join_locked,
			party,
			location,
			chain_amount,
			role_id,
			channel_id,
			message_id,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,'open',$6,$7,$8,$9,$10,$11,$12,$13,$14,$6)
		RETURNING ` + runColumns

	selectRunQuery = `SELECT ` + runColumns + `
		FROM runs
		WHERE guild_id = $1 AND run_id = $2`

	selectRunStatusQuery = `SELECT status FROM runs WHERE guild_id = $1 AND run_id = $2`

	transitionStatusQuery = `UPDATE runs SET
			status = $4::text,
			started_at = CASE WHEN $4::text = 'live' THEN $5::timestamptz ELSE started_at END,
			ended_at = CASE WHEN $4::text IN ('ended', 'cancelled') THEN $5::timestamptz ELSE ended_at END,
			updated_at = $5::timestamptz
		WHERE guild_id = $1 AND run_id = $2 AND status = $3
		RETURNING ` + runColumns

	deleteRunQuery = `DELETE FROM runs
		WHERE guild_id = $1 AND run_id = $2 AND status IN ('ended', 'cancelled')`

	incrementKeyPopsQuery = `UPDATE runs SET
			key_pops = key_pops + $3,
			updated_at = $4
		WHERE guild_id = $1 AND run_id = $2 AND status = 'live'
		RETURNING ` + runColumns

	setPingMessageQuery = `UPDATE runs SET
			ping_channel_id = $3,
			ping_message_id = $4,
			updated_at = $5
		WHERE guild_id = $1 AND run_id = $2`

	setScreenshotURLQuery = `UPDATE runs SET
			screenshot_url = $3,
			updated_at = $4
		WHERE guild_id = $1 AND run_id = $2 AND status IN ('open', 'live')
		RETURNING ` + runColumns
)

type RunStore struct {
	db  DB
	now func() time.Time
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.Run) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(run.GuildID) == "" {
		return domain.Run{}, fmt.Errorf("guild id is required")
	}
	if strings.TrimSpace(run.OrganizerID) == "" {
		return domain.Run{}, fmt.Errorf("organizer id is required")
	}
	if strings.TrimSpace(run.DungeonKey) == "" {
		return domain.Run{}, fmt.Errorf("dungeon key is required")
	}
	createdAt := normalizeTime(run.CreatedAt)

	row := s.db.QueryRowContext(
		ctx,
		insertRunQuery,
		strings.TrimSpace(run.GuildID),
		strings.TrimSpace(run.DungeonKey),
		strings.TrimSpace(run.DungeonLabel),
		strings.TrimSpace(run.OrganizerID),
		strings.TrimSpace(run.OrganizerLabel),
		createdAt,
		nullTime(run.KeyWindowEndsAt),
		run.JoinLocked,
		nullIfEmpty(run.Party),
		nullIfEmpty(run.Location),
		nullInt(run.ChainAmount),
		nullIfEmpty(run.RoleID),
		nullIfEmpty(run.ChannelID),
		nullIfEmpty(run.MessageID),
	)
	created, err := scanRun(row)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return domain.Run{}, repo.ErrOrganizerBusy
		}
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return created, nil
}

func (s *RunStore) GetRun(ctx context.Context, guildID string, runID int64) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return domain.Run{}, fmt.Errorf("guild id is required")
	}
	if runID <= 0 {
		return domain.Run{}, repo.ErrNotFound
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunQuery, guildID, runID))
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	query, args, err := buildListRunsQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func buildListRunsQuery(filter repo.RunFilter) (string, []any, error) {
	guildID := strings.TrimSpace(filter.GuildID)
	if guildID == "" {
		return "", nil, fmt.Errorf("guild id is required")
	}
	args := []any{guildID}
	clauses := []string{"guild_id = $1"}

	if organizer := strings.TrimSpace(filter.OrganizerID); organizer != "" {
		args = append(args, organizer)
		clauses = append(clauses, fmt.Sprintf("organizer_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			normalized, ok := domain.NormalizeRunStatus(string(status))
			if !ok {
				return "", nil, fmt.Errorf("invalid status %q", status)
			}
			args = append(args, string(normalized))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, run_id DESC`
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	return query, args, nil
}

func (s *RunStore) UpdateRun(ctx context.Context, guildID string, runID int64, patch repo.RunPatch) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	query, args := buildUpdateRunQuery(strings.TrimSpace(guildID), runID, patch, s.now())
	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if pgErrorCode(err) == pgCheckViolation {
			return domain.Run{}, fmt.Errorf("update run: %s: %w", pgConstraint(err), err)
		}
		return domain.Run{}, fmt.Errorf("update run: %w", err)
	}
	return domain.Run{}, s.explainMiss(ctx, guildID, runID, repo.ErrRunTerminal)
}

func buildUpdateRunQuery(guildID string, runID int64, patch repo.RunPatch, now time.Time) (string, []any) {
	args := []any{guildID, runID, now.UTC()}
	sets := []string{"updated_at = $3"}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Party != nil {
		add("party", nullIfEmpty(*patch.Party))
	}
	if patch.Location != nil {
		add("location", nullIfEmpty(*patch.Location))
	}
	if patch.ClearChainAmount {
		sets = append(sets, "chain_amount = NULL")
	} else if patch.ChainAmount != nil {
		add("chain_amount", nullInt(patch.ChainAmount))
	}
	if patch.JoinLocked != nil {
		add("join_locked", *patch.JoinLocked)
	}
	if patch.ClearKeyWindow {
		sets = append(sets, "key_window_ends_at = NULL")
	} else if patch.KeyWindowEndsAt != nil {
		add("key_window_ends_at", nullTime(patch.KeyWindowEndsAt))
	}
	if patch.RoleID != nil {
		add("role_id", nullIfEmpty(*patch.RoleID))
	}
	if patch.ChannelID != nil {
		add("channel_id", nullIfEmpty(*patch.ChannelID))
	}
	if patch.MessageID != nil {
		add("message_id", nullIfEmpty(*patch.MessageID))
	}

	query := `UPDATE runs SET ` + strings.Join(sets, ", ") +
		` WHERE guild_id = $1 AND run_id = $2 AND status IN ('open', 'live') RETURNING ` + runColumns
	return query, args
}

func (s *RunStore) TransitionStatus(ctx context.Context, guildID string, runID int64, from, to domain.RunStatus, at time.Time) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	if !domain.CanTransition(from, to) {
		return domain.Run{}, fmt.Errorf("%w: %s -> %s", repo.ErrInvalidTransition, from, to)
	}
	run, err := scanRun(s.db.QueryRowContext(
		ctx,
		transitionStatusQuery,
		strings.TrimSpace(guildID),
		runID,
		string(from),
		string(to),
		normalizeTime(at),
	))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("transition run: %w", err)
	}
	return domain.Run{}, s.explainMiss(ctx, guildID, runID, repo.ErrStatusConflict)
}

func (s *RunStore) DeleteRun(ctx context.Context, guildID string, runID int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	res, err := s.db.ExecContext(ctx, deleteRunQuery, strings.TrimSpace(guildID), runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return s.explainMiss(ctx, guildID, runID, repo.ErrRunActive)
	}
	return nil
}

func (s *RunStore) IncrementKeyPops(ctx context.Context, guildID string, runID int64, delta int) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	if delta <= 0 {
		return domain.Run{}, fmt.Errorf("key pop delta must be positive")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, incrementKeyPopsQuery, strings.TrimSpace(guildID), runID, delta, s.now()))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("increment key pops: %w", err)
	}
	return domain.Run{}, s.explainMiss(ctx, guildID, runID, repo.ErrRunNotLive)
}

func (s *RunStore) SetPingMessage(ctx context.Context, guildID string, runID int64, channelID, messageID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	res, err := s.db.ExecContext(ctx, setPingMessageQuery, strings.TrimSpace(guildID), runID, nullIfEmpty(channelID), nullIfEmpty(messageID), s.now())
	if err != nil {
		return fmt.Errorf("set ping message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set ping message: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *RunStore) SetScreenshotURL(ctx context.Context, guildID string, runID int64, url string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(url) == "" {
		return domain.Run{}, fmt.Errorf("screenshot url is required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, setScreenshotURLQuery, strings.TrimSpace(guildID), runID, strings.TrimSpace(url), s.now()))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("set screenshot url: %w", err)
	}
	return domain.Run{}, s.explainMiss(ctx, guildID, runID, repo.ErrRunTerminal)
}

// explainMiss turns a guarded UPDATE that matched nothing into ErrNotFound
// when the run is absent, or guardErr when its status blocked the write.
func (s *RunStore) explainMiss(ctx context.Context, guildID string, runID int64, guardErr error) error {
	var status string
	err := s.db.QueryRowContext(ctx, selectRunStatusQuery, strings.TrimSpace(guildID), runID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repo.ErrNotFound
		}
		return fmt.Errorf("load run status: %w", err)
	}
	return guardErr
}

func scanRun(row scanner) (domain.Run, error) {
	var run domain.Run
	var status string
	var startedAt, endedAt, keyWindowEndsAt sql.NullTime
	var party, location, roleID, screenshotURL, channelID, messageID, pingMessageID, pingChannelID sql.NullString
	var chainAmount sql.NullInt64

	if err := row.Scan(
		&run.ID,
		&run.GuildID,
		&run.DungeonKey,
		&run.DungeonLabel,
		&run.OrganizerID,
		&run.OrganizerLabel,
		&status,
		&run.CreatedAt,
		&startedAt,
		&endedAt,
		&keyWindowEndsAt,
		&run.JoinLocked,
		&party,
		&location,
		&run.KeyPops,
		&chainAmount,
		&roleID,
		&screenshotURL,
		&channelID,
		&messageID,
		&pingMessageID,
		&pingChannelID,
		&run.UpdatedAt,
	); err != nil {
		return domain.Run{}, err
	}

	run.Status = domain.RunStatus(status)
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	run.StartedAt = timePtr(startedAt)
	run.EndedAt = timePtr(endedAt)
	run.KeyWindowEndsAt = timePtr(keyWindowEndsAt)
	run.Party = party.String
	run.Location = location.String
	run.RoleID = roleID.String
	run.ScreenshotURL = screenshotURL.String
	run.ChannelID = channelID.String
	run.MessageID = messageID.String
	run.PingMessageID = pingMessageID.String
	run.PingChannelID = pingChannelID.String
	if chainAmount.Valid {
		v := int(chainAmount.Int64)
		run.ChainAmount = &v
	}
	return run, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/repo"
)

type fakeDB struct {
	execs []string
	err   error
}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	return nil, f.err
}

func (f *fakeDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (f *fakeDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	panic("unexpected query row: " + query)
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d dest, %d values", len(dest), len(r.values))
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *int:
			*d = v.(int)
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		case *sql.NullTime:
			*d = v.(sql.NullTime)
		case *sql.NullString:
			*d = v.(sql.NullString)
		case *sql.NullInt64:
			*d = v.(sql.NullInt64)
		default:
			return fmt.Errorf("unsupported dest %T", dest[i])
		}
	}
	return nil
}

func TestTransitionQueryIsCompareAndSet(t *testing.T) {
	if !strings.Contains(transitionStatusQuery, "status = $3") {
		t.Fatalf("expected expected-status predicate in transition query")
	}
	if !strings.Contains(transitionStatusQuery, "guild_id = $1 AND run_id = $2") {
		t.Fatalf("expected guild scoped predicate in transition query")
	}
	if !strings.Contains(transitionStatusQuery, "RETURNING") {
		t.Fatalf("expected transition query to return the updated row")
	}
	if !strings.Contains(incrementKeyPopsQuery, "status = 'live'") {
		t.Fatalf("key pops must only move while live")
	}
	if !strings.Contains(setScreenshotURLQuery, "status IN ('open', 'live')") {
		t.Fatalf("screenshot must not be attached to terminal runs")
	}
	if !strings.Contains(deleteRunQuery, "status IN ('ended', 'cancelled')") {
		t.Fatalf("delete must only remove terminal runs")
	}
	if !strings.Contains(setPingMessageQuery, "ping_channel_id = $3") {
		t.Fatalf("ping message must be recorded with its channel")
	}
}

func TestQuotaInsertQueryIsIdempotent(t *testing.T) {
	if !strings.Contains(insertQuotaEventQuery, "ON CONFLICT (guild_id, run_id, kind) DO NOTHING") {
		t.Fatalf("expected idempotency conflict clause in quota insert")
	}
}

func TestTransitionStatusRejectsEdgeOutsideTable(t *testing.T) {
	store := NewRunStore(&fakeDB{})
	_, err := store.TransitionStatus(context.Background(), "g1", 1, domain.RunStatusOpen, domain.RunStatusEnded, time.Now())
	if !errors.Is(err, repo.ErrInvalidTransition) {
		t.Fatalf("err=%v, want ErrInvalidTransition", err)
	}
	_, err = store.TransitionStatus(context.Background(), "g1", 1, domain.RunStatusEnded, domain.RunStatusLive, time.Now())
	if !errors.Is(err, repo.ErrInvalidTransition) {
		t.Fatalf("err=%v, want ErrInvalidTransition", err)
	}
}

func TestBuildListRunsQuery(t *testing.T) {
	query, args, err := buildListRunsQuery(repo.RunFilter{
		GuildID:     "g1",
		OrganizerID: "111",
		Statuses:    []domain.RunStatus{domain.RunStatusOpen, "LIVE"},
	})
	if err != nil {
		t.Fatalf("buildListRunsQuery() err=%v", err)
	}
	if !strings.Contains(query, "organizer_id = $2") || !strings.Contains(query, "status IN ($3, $4)") {
		t.Fatalf("query=%s", query)
	}
	if !strings.HasSuffix(query, "LIMIT $5") || args[4] != 50 || args[3] != "live" {
		t.Fatalf("query=%s args=%v", query, args)
	}

	if _, _, err := buildListRunsQuery(repo.RunFilter{}); err == nil {
		t.Fatalf("expected guild id to be required")
	}
	if _, _, err := buildListRunsQuery(repo.RunFilter{GuildID: "g1", Statuses: []domain.RunStatus{"paused"}}); err == nil {
		t.Fatalf("expected invalid status to be rejected")
	}
}

func TestBuildUpdateRunQuery(t *testing.T) {
	party := "Alpha"
	locked := true
	query, args := buildUpdateRunQuery("g1", 7, repo.RunPatch{
		Party:            &party,
		JoinLocked:       &locked,
		ClearChainAmount: true,
	}, time.Unix(1700000000, 0))

	for _, want := range []string{"updated_at = $3", "party = $4", "join_locked = $5", "chain_amount = NULL", "status IN ('open', 'live')"} {
		if !strings.Contains(query, want) {
			t.Fatalf("query missing %q: %s", want, query)
		}
	}
	if len(args) != 5 {
		t.Fatalf("args=%v", args)
	}
	if v, ok := args[3].(sql.NullString); !ok || v.String != "Alpha" {
		t.Fatalf("party arg=%v", args[3])
	}
}

func TestScanRun(t *testing.T) {
	created := time.Unix(1700000000, 0)
	started := time.Unix(1700000300, 0)
	row := fakeRow{values: []any{
		int64(7), "g1", "o3", "Oryx 3", "111", "Alice", "live",
		created, sql.NullTime{Time: started, Valid: true}, sql.NullTime{}, sql.NullTime{},
		true, sql.NullString{String: "Alpha", Valid: true}, sql.NullString{String: "Server12", Valid: true}, 2,
		sql.NullInt64{Int64: 3, Valid: true}, sql.NullString{String: "role-1", Valid: true}, sql.NullString{},
		sql.NullString{String: "chan", Valid: true}, sql.NullString{String: "msg", Valid: true},
		sql.NullString{String: "ping", Valid: true}, sql.NullString{String: "chan-old", Valid: true},
		created,
	}}
	run, err := scanRun(row)
	if err != nil {
		t.Fatalf("scanRun() err=%v", err)
	}
	if run.ID != 7 || run.Status != domain.RunStatusLive || run.Party != "Alpha" || run.KeyPops != 2 {
		t.Fatalf("scanRun()=%+v", run)
	}
	if run.StartedAt == nil || !run.StartedAt.Equal(started) || run.EndedAt != nil {
		t.Fatalf("timestamps started=%v ended=%v", run.StartedAt, run.EndedAt)
	}
	if run.ChainAmount == nil || *run.ChainAmount != 3 || run.ScreenshotURL != "" {
		t.Fatalf("chain=%v screenshot=%q", run.ChainAmount, run.ScreenshotURL)
	}
	if run.PingMessageID != "ping" || run.PingChannelID != "chan-old" || run.ChannelID != "chan" {
		t.Fatalf("ping=%q/%q channel=%q", run.PingChannelID, run.PingMessageID, run.ChannelID)
	}

	if _, err := scanRun(fakeRow{err: sql.ErrNoRows}); handleNotFound(err) != repo.ErrNotFound {
		t.Fatalf("expected ErrNoRows to map to ErrNotFound")
	}
}

func TestPgErrorCode(t *testing.T) {
	err := fmt.Errorf("insert run: %w", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "runs_one_active_per_organizer"})
	if pgErrorCode(err) != pgUniqueViolation {
		t.Fatalf("pgErrorCode()=%q", pgErrorCode(err))
	}
	if pgConstraint(err) != "runs_one_active_per_organizer" {
		t.Fatalf("pgConstraint()=%q", pgConstraint(err))
	}
	if pgErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain error should have no code")
	}
}

func TestMigrate(t *testing.T) {
	db := &fakeDB{}
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate() err=%v", err)
	}
	if len(db.execs) != len(MigrationNames()) || len(db.execs) == 0 {
		t.Fatalf("execs=%d names=%v", len(db.execs), MigrationNames())
	}
	schema := strings.Join(db.execs, "\n")
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS runs",
		"runs_one_active_per_organizer",
		"CREATE TABLE IF NOT EXISTS guild_settings",
		"UNIQUE (guild_id, run_id, kind)",
		"CREATE TABLE IF NOT EXISTS audit_events",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("schema missing %q", want)
		}
	}

	failing := &fakeDB{err: errors.New("boom")}
	if err := Migrate(context.Background(), failing); err == nil {
		t.Fatalf("expected migrate error")
	}
}

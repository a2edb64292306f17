package repo

import (
	"context"
	"time"

	"github.com/sjkd23/console-sub003/internal/domain"
)

type RunFilter struct {
	GuildID     string
	OrganizerID string
	Statuses    []domain.RunStatus
	Limit       int
}

// RunPatch updates run details. Nil fields are left unchanged.
type RunPatch struct {
	Party            *string
	Location         *string
	ChainAmount      *int
	ClearChainAmount bool
	JoinLocked       *bool
	KeyWindowEndsAt  *time.Time
	ClearKeyWindow   bool
	RoleID           *string
	ChannelID        *string
	MessageID        *string
}

func (p RunPatch) Empty() bool {
	return p.Party == nil && p.Location == nil && p.ChainAmount == nil && !p.ClearChainAmount &&
		p.JoinLocked == nil && p.KeyWindowEndsAt == nil && !p.ClearKeyWindow &&
		p.RoleID == nil && p.ChannelID == nil && p.MessageID == nil
}

// RunRepository persists runs. Every method is a single atomic statement.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.Run) (domain.Run, error)
	GetRun(ctx context.Context, guildID string, runID int64) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	// UpdateRun fails with ErrRunTerminal once the run has ended or been
	// cancelled.
	UpdateRun(ctx context.Context, guildID string, runID int64, patch RunPatch) (domain.Run, error)
	// TransitionStatus moves the run from -> to only if its stored status is
	// still from, stamping started_at or ended_at with at.
	TransitionStatus(ctx context.Context, guildID string, runID int64, from, to domain.RunStatus, at time.Time) (domain.Run, error)
	// DeleteRun removes a terminal run; an open or live one fails with
	// ErrRunActive.
	DeleteRun(ctx context.Context, guildID string, runID int64) error
	IncrementKeyPops(ctx context.Context, guildID string, runID int64, delta int) (domain.Run, error)
	// SetPingMessage records where the live ping was posted. Empty values
	// clear it.
	SetPingMessage(ctx context.Context, guildID string, runID int64, channelID, messageID string) error
	SetScreenshotURL(ctx context.Context, guildID string, runID int64, url string) (domain.Run, error)
}

type GuildSettingsRepository interface {
	GetGuildSettings(ctx context.Context, guildID string) (domain.GuildSettings, error)
	UpsertGuildSettings(ctx context.Context, settings domain.GuildSettings) (domain.GuildSettings, error)
}

type QuotaEvent struct {
	GuildID    string
	UserID     string
	RunID      int64
	Kind       string
	Points     int
	DungeonKey string
	OccurredAt time.Time
}

type QuotaRepository interface {
	// InsertQuotaEvent reports false when the (guild, run, kind) event
	// already exists.
	InsertQuotaEvent(ctx context.Context, event QuotaEvent) (bool, error)
	SumPoints(ctx context.Context, guildID, userID string, since time.Time) (int, error)
}

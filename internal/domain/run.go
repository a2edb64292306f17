// Package domain holds the run model and its transition table.
package domain

import (
	"strings"
	"time"
)

type RunStatus string

const (
	RunStatusOpen      RunStatus = "open"
	RunStatusLive      RunStatus = "live"
	RunStatusEnded     RunStatus = "ended"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunStatuses lists every status in lifecycle order.
var RunStatuses = []RunStatus{RunStatusOpen, RunStatusLive, RunStatusEnded, RunStatusCancelled}

func NormalizeRunStatus(raw string) (RunStatus, bool) {
	switch RunStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case RunStatusOpen:
		return RunStatusOpen, true
	case RunStatusLive:
		return RunStatusLive, true
	case RunStatusEnded:
		return RunStatusEnded, true
	case RunStatusCancelled:
		return RunStatusCancelled, true
	default:
		return "", false
	}
}

func (s RunStatus) Terminal() bool {
	return s == RunStatusEnded || s == RunStatusCancelled
}

// Active reports whether the status counts toward the one-run-per-organizer
// limit.
func (s RunStatus) Active() bool {
	return s == RunStatusOpen || s == RunStatusLive
}

type Run struct {
	ID              int64
	GuildID         string
	DungeonKey      string
	DungeonLabel    string
	OrganizerID     string
	OrganizerLabel  string
	Status          RunStatus
	CreatedAt       time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	KeyWindowEndsAt *time.Time
	JoinLocked      bool
	Party           string
	Location        string
	KeyPops         int
	ChainAmount     *int
	RoleID          string
	ScreenshotURL   string
	ChannelID       string
	MessageID       string
	PingMessageID   string
	PingChannelID   string
	UpdatedAt       time.Time
}

// RunChange describes a committed transition handed to side effects.
type RunChange struct {
	Run        Run
	From       RunStatus
	To         RunStatus
	ActorID    string
	ActorLabel string
	At         time.Time
	RequestID  string
}

type GuildSettings struct {
	GuildID         string
	OrganizerRoleID string
	RaidChannelID   string
	UpdatedAt       time.Time
}

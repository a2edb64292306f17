package runs

import (
	"time"

	"github.com/sjkd23/console-sub003/internal/domain"
)

// RunView is the caller-facing representation of a run.
type RunView struct {
	ID                 int64      `json:"id"`
	GuildID            string     `json:"guild_id"`
	DungeonKey         string     `json:"dungeon_key"`
	DungeonLabel       string     `json:"dungeon_label"`
	OrganizerID        string     `json:"organizer_id"`
	OrganizerLabel     string     `json:"organizer_label,omitempty"`
	Status             string     `json:"status"`
	StatusLabel        string     `json:"status_label"`
	Terminal           bool       `json:"terminal"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	DurationSeconds    *int64     `json:"duration_seconds,omitempty"`
	KeyWindowEndsAt    *time.Time `json:"key_window_ends_at,omitempty"`
	KeyWindowOpen      bool       `json:"key_window_open"`
	JoinLocked         bool       `json:"join_locked"`
	Party              string     `json:"party,omitempty"`
	Location           string     `json:"location,omitempty"`
	KeyPops            int        `json:"key_pops"`
	ChainAmount        *int       `json:"chain_amount,omitempty"`
	RoleID             string     `json:"role_id,omitempty"`
	RequiresScreenshot bool       `json:"requires_screenshot"`
	ScreenshotURL      string     `json:"screenshot_url,omitempty"`
	ChannelID          string     `json:"channel_id,omitempty"`
	MessageID          string     `json:"message_id,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

var statusLabels = map[domain.RunStatus]string{
	domain.RunStatusOpen:      "Open",
	domain.RunStatusLive:      "Live",
	domain.RunStatusEnded:     "Ended",
	domain.RunStatusCancelled: "Cancelled",
}

// ViewOf renders run as of now.
func ViewOf(run domain.Run, requiresScreenshot bool, now time.Time) RunView {
	v := RunView{
		ID:                 run.ID,
		GuildID:            run.GuildID,
		DungeonKey:         run.DungeonKey,
		DungeonLabel:       run.DungeonLabel,
		OrganizerID:        run.OrganizerID,
		OrganizerLabel:     run.OrganizerLabel,
		Status:             string(run.Status),
		StatusLabel:        statusLabels[run.Status],
		Terminal:           run.Status.Terminal(),
		CreatedAt:          run.CreatedAt.UTC(),
		StartedAt:          utcPtr(run.StartedAt),
		EndedAt:            utcPtr(run.EndedAt),
		KeyWindowEndsAt:    utcPtr(run.KeyWindowEndsAt),
		JoinLocked:         run.JoinLocked,
		Party:              run.Party,
		Location:           run.Location,
		KeyPops:            run.KeyPops,
		ChainAmount:        run.ChainAmount,
		RoleID:             run.RoleID,
		RequiresScreenshot: requiresScreenshot,
		ScreenshotURL:      run.ScreenshotURL,
		ChannelID:          run.ChannelID,
		MessageID:          run.MessageID,
		UpdatedAt:          run.UpdatedAt.UTC(),
	}
	if v.StatusLabel == "" {
		v.StatusLabel = string(run.Status)
	}
	if run.StartedAt != nil {
		end := now
		if run.EndedAt != nil {
			end = *run.EndedAt
		}
		secs := int64(end.Sub(*run.StartedAt) / time.Second)
		if secs < 0 {
			secs = 0
		}
		v.DurationSeconds = &secs
	}
	if run.KeyWindowEndsAt != nil && !run.Status.Terminal() {
		v.KeyWindowOpen = now.Before(*run.KeyWindowEndsAt)
	}
	return v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/repo"
)

type settingsView struct {
	GuildID         string     `json:"guild_id"`
	OrganizerRoleID string     `json:"organizer_role_id,omitempty"`
	RaidChannelID   string     `json:"raid_channel_id,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

func settingsViewOf(s domain.GuildSettings) settingsView {
	v := settingsView{
		GuildID:         s.GuildID,
		OrganizerRoleID: s.OrganizerRoleID,
		RaidChannelID:   s.RaidChannelID,
	}
	if !s.UpdatedAt.IsZero() {
		at := s.UpdatedAt.UTC()
		v.UpdatedAt = &at
	}
	return v
}

func (api *runsAPI) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	guildID := strings.TrimSpace(r.PathValue("guild_id"))
	settings, err := api.settings.GetGuildSettings(r.Context(), guildID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeJSON(w, http.StatusOK, settingsViewOf(domain.GuildSettings{GuildID: guildID}))
			return
		}
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, settingsViewOf(settings))
}

type putSettingsRequest struct {
	OrganizerRoleID string `json:"organizer_role_id"`
	RaidChannelID   string `json:"raid_channel_id"`
}

func (api *runsAPI) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	guildID := strings.TrimSpace(r.PathValue("guild_id"))
	var req putSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if !isSnowflake(req.OrganizerRoleID) || !isSnowflake(req.RaidChannelID) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_snowflake")
		return
	}

	saved, err := api.settings.UpsertGuildSettings(r.Context(), domain.GuildSettings{
		GuildID:         guildID,
		OrganizerRoleID: strings.TrimSpace(req.OrganizerRoleID),
		RaidChannelID:   strings.TrimSpace(req.RaidChannelID),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.logger.Info("guild settings updated", "guild_id", guildID, "request_id", r.Header.Get("X-Request-Id"))
	api.writeJSON(w, http.StatusOK, settingsViewOf(saved))
}

// isSnowflake accepts an empty value or a Discord numeric ID.
func isSnowflake(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	if len(v) > 20 {
		return false
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (api *runsAPI) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	guildID := strings.TrimSpace(r.PathValue("guild_id"))
	userID := strings.TrimSpace(r.PathValue("user_id"))
	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_since")
			return
		}
		since = parsed
	}
	points, err := api.quota.Points(r.Context(), guildID, userID, since)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"guild_id": guildID,
		"user_id":  userID,
		"points":   points,
	})
}

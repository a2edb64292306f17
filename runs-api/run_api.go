package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/repo"
	"github.com/sjkd23/console-sub003/internal/service/runs"
)

type createRunRequest struct {
	DungeonKey       string `json:"dungeon_key"`
	OrganizerLabel   string `json:"organizer_label,omitempty"`
	Party            string `json:"party,omitempty"`
	Location         string `json:"location,omitempty"`
	ChainAmount      *int   `json:"chain_amount,omitempty"`
	KeyWindowSeconds int    `json:"key_window_seconds,omitempty"`
	RoleID           string `json:"role_id,omitempty"`
	ChannelID        string `json:"channel_id,omitempty"`
	MessageID        string `json:"message_id,omitempty"`
}

func (api *runsAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if label := strings.TrimSpace(req.OrganizerLabel); label != "" {
		actor.Label = label
	}
	if req.KeyWindowSeconds < 0 {
		api.writeError(w, r, http.StatusBadRequest, "invalid_key_window_seconds")
		return
	}

	view, err := api.service.Create(r.Context(), runs.CreateRequest{
		GuildID:     strings.TrimSpace(r.PathValue("guild_id")),
		DungeonKey:  req.DungeonKey,
		Organizer:   actor,
		Party:       req.Party,
		Location:    req.Location,
		ChainAmount: req.ChainAmount,
		KeyWindow:   time.Duration(req.KeyWindowSeconds) * time.Second,
		RoleID:      strings.TrimSpace(req.RoleID),
		ChannelID:   strings.TrimSpace(req.ChannelID),
		MessageID:   strings.TrimSpace(req.MessageID),
		RequestID:   r.Header.Get("X-Request-Id"),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/guilds/"+view.GuildID+"/runs/"+strconv.FormatInt(view.ID, 10))
	api.writeJSON(w, http.StatusCreated, view)
}

func (api *runsAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	guildID := strings.TrimSpace(r.PathValue("guild_id"))
	filter := repo.RunFilter{
		GuildID:     guildID,
		OrganizerID: strings.TrimSpace(r.URL.Query().Get("organizer_id")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, ok := domain.NormalizeRunStatus(part)
			if !ok {
				api.writeError(w, r, http.StatusBadRequest, "invalid_status")
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		filter.Limit = limit
	}

	views, err := api.service.List(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

func (api *runsAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	guildID, runID, ok := api.runPath(w, r)
	if !ok {
		return
	}
	view, err := api.service.Get(r.Context(), guildID, runID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, view)
}

type updateRunRequest struct {
	Party            *string `json:"party,omitempty"`
	Location         *string `json:"location,omitempty"`
	ChainAmount      *int    `json:"chain_amount,omitempty"`
	ClearChainAmount bool    `json:"clear_chain_amount,omitempty"`
	JoinLocked       *bool   `json:"join_locked,omitempty"`
	KeyWindowSeconds *int    `json:"key_window_seconds,omitempty"`
	ClearKeyWindow   bool    `json:"clear_key_window,omitempty"`
	RoleID           *string `json:"role_id,omitempty"`
	ChannelID        *string `json:"channel_id,omitempty"`
	MessageID        *string `json:"message_id,omitempty"`
}

func (api *runsAPI) handleUpdateRun(w http.ResponseWriter, r *http.Request) {
	guildID, runID, ok := api.runPath(w, r)
	if !ok {
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req updateRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	patch := repo.RunPatch{
		Party:            req.Party,
		Location:         req.Location,
		ChainAmount:      req.ChainAmount,
		ClearChainAmount: req.ClearChainAmount,
		JoinLocked:       req.JoinLocked,
		ClearKeyWindow:   req.ClearKeyWindow,
		RoleID:           req.RoleID,
		ChannelID:        req.ChannelID,
		MessageID:        req.MessageID,
	}
	if req.KeyWindowSeconds != nil {
		if *req.KeyWindowSeconds <= 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_key_window_seconds")
			return
		}
		ends := time.Now().UTC().Add(time.Duration(*req.KeyWindowSeconds) * time.Second)
		patch.KeyWindowEndsAt = &ends
	}

	view, err := api.service.Update(r.Context(), guildID, runID, actor, patch)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, view)
}

func (api *runsAPI) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	guildID, runID, ok := api.runPath(w, r)
	if !ok {
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := api.service.Delete(r.Context(), guildID, runID, actor, r.Header.Get("X-Request-Id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (api *runsAPI) handleTransitionRun(w http.ResponseWriter, r *http.Request) {
	guildID, runID, ok := api.runPath(w, r)
	if !ok {
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		api.writeError(w, r, http.StatusBadRequest, "status_required")
		return
	}

	view, err := api.service.Transition(r.Context(), runs.TransitionRequest{
		GuildID:   guildID,
		RunID:     runID,
		To:        domain.RunStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Actor:     actor,
		RequestID: r.Header.Get("X-Request-Id"),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "run": view})
}

type keyPopRequest struct {
	Count int `json:"count,omitempty"`
}

func (api *runsAPI) handleKeyPop(w http.ResponseWriter, r *http.Request) {
	guildID, runID, ok := api.runPath(w, r)
	if !ok {
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req keyPopRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}
	view, err := api.service.KeyPop(r.Context(), guildID, runID, actor, req.Count)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, view)
}

func (api *runsAPI) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	guildID, runID, ok := api.runPath(w, r)
	if !ok {
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	view, err := api.service.CheckAccess(r.Context(), guildID, runID, actor)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, view)
}

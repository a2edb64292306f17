package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sjkd23/console-sub003/internal/catalog"
	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/effects"
	"github.com/sjkd23/console-sub003/internal/platform/auth"
	"github.com/sjkd23/console-sub003/internal/platform/objectstore"
	"github.com/sjkd23/console-sub003/internal/repo"
	"github.com/sjkd23/console-sub003/internal/service/runs"
)

const defaultMaxUploadBytes = 8 << 20

type runService interface {
	Transition(ctx context.Context, req runs.TransitionRequest) (runs.RunView, error)
	CheckAccess(ctx context.Context, guildID string, runID int64, actor runs.Actor) (runs.AccessView, error)
	Create(ctx context.Context, req runs.CreateRequest) (runs.RunView, error)
	Get(ctx context.Context, guildID string, runID int64) (runs.RunView, error)
	List(ctx context.Context, filter repo.RunFilter) ([]runs.RunView, error)
	Update(ctx context.Context, guildID string, runID int64, actor runs.Actor, patch repo.RunPatch) (runs.RunView, error)
	KeyPop(ctx context.Context, guildID string, runID int64, actor runs.Actor, delta int) (runs.RunView, error)
	AttachScreenshot(ctx context.Context, guildID string, runID int64, actor runs.Actor, contentType string, body io.Reader, size int64) (runs.RunView, error)
	Delete(ctx context.Context, guildID string, runID int64, actor runs.Actor, requestID string) error
	View(run domain.Run) runs.RunView
}

type pointsReader interface {
	Points(ctx context.Context, guildID, userID string, since time.Time) (int, error)
}

type runsAPI struct {
	logger    *slog.Logger
	service   runService
	settings  repo.GuildSettingsRepository
	quota     pointsReader
	catalog   *catalog.Catalog
	registry  *effects.Registry
	maxUpload int64
	heartbeat time.Duration
}

func newRunsAPI(
	logger *slog.Logger,
	service runService,
	settings repo.GuildSettingsRepository,
	quota pointsReader,
	dungeons *catalog.Catalog,
	registry *effects.Registry,
	maxUpload int64,
) *runsAPI {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &runsAPI{
		logger:    logger,
		service:   service,
		settings:  settings,
		quota:     quota,
		catalog:   dungeons,
		registry:  registry,
		maxUpload: maxUpload,
		heartbeat: 15 * time.Second,
	}
}

func (api *runsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /dungeons", api.handleListDungeons)

	mux.HandleFunc("POST /guilds/{guild_id}/runs", api.handleCreateRun)
	mux.HandleFunc("GET /guilds/{guild_id}/runs", api.handleListRuns)
	mux.HandleFunc("GET /guilds/{guild_id}/runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("PATCH /guilds/{guild_id}/runs/{run_id}", api.handleUpdateRun)
	mux.HandleFunc("DELETE /guilds/{guild_id}/runs/{run_id}", api.handleDeleteRun)
	mux.HandleFunc("POST /guilds/{guild_id}/runs/{run_id}/transition", api.handleTransitionRun)
	mux.HandleFunc("POST /guilds/{guild_id}/runs/{run_id}/key-pop", api.handleKeyPop)
	mux.HandleFunc("GET /guilds/{guild_id}/runs/{run_id}/access", api.handleCheckAccess)
	mux.HandleFunc("PUT /guilds/{guild_id}/runs/{run_id}/screenshot", api.handlePutScreenshot)
	mux.HandleFunc("GET /guilds/{guild_id}/runs/{run_id}/stream", api.handleStreamRun)

	mux.HandleFunc("GET /guilds/{guild_id}/settings", api.handleGetSettings)
	mux.HandleFunc("PUT /guilds/{guild_id}/settings", api.handlePutSettings)
	mux.HandleFunc("GET /guilds/{guild_id}/quota/{user_id}", api.handleGetQuota)
}

func (api *runsAPI) handleListDungeons(w http.ResponseWriter, r *http.Request) {
	type dungeonView struct {
		Key                string `json:"key"`
		Label              string `json:"label"`
		RequiresScreenshot bool   `json:"requires_screenshot"`
		OrganizerPoints    int    `json:"organizer_points"`
	}
	all := api.catalog.All()
	out := make([]dungeonView, 0, len(all))
	for _, d := range all {
		out = append(out, dungeonView{Key: d.Key, Label: d.Label, RequiresScreenshot: d.RequiresScreenshot, OrganizerPoints: d.OrganizerPoints})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"dungeons": out})
}

func actorFromRequest(r *http.Request) (runs.Actor, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		return runs.Actor{}, false
	}
	return runs.Actor{ID: identity.Subject, Label: identity.DisplayLabel(), Roles: identity.Roles}, true
}

// runPath reads guild_id and run_id, writing a 400 when either is invalid.
func (api *runsAPI) runPath(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	guildID := strings.TrimSpace(r.PathValue("guild_id"))
	if guildID == "" {
		api.writeError(w, r, http.StatusBadRequest, "guild_id_required")
		return "", 0, false
	}
	runID, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("run_id")), 10, 64)
	if err != nil || runID <= 0 {
		api.writeError(w, r, http.StatusBadRequest, "invalid_run_id")
		return "", 0, false
	}
	return guildID, runID, true
}

// writeServiceError maps service and repository errors onto HTTP responses.
func (api *runsAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		te         *runs.TransitionError
		inProgress *runs.InProgressError
		invalid    *runs.ValidationError
	)
	switch {
	case errors.As(err, &inProgress):
		api.writeJSON(w, http.StatusConflict, map[string]any{
			"ok":         false,
			"error":      "transition_in_progress",
			"holder":     inProgress.HolderLabel,
			"request_id": r.Header.Get("X-Request-Id"),
		})
	case errors.As(err, &te):
		if te.Code == runs.CodeInternal {
			api.logger.Error("run operation failed", "path", r.URL.Path, "request_id", r.Header.Get("X-Request-Id"), "error", err)
		}
		api.writeJSON(w, transitionStatus(te.Code), map[string]any{
			"ok":         false,
			"error":      string(te.Code),
			"detail":     te.Detail,
			"request_id": r.Header.Get("X-Request-Id"),
		})
	case errors.As(err, &invalid):
		api.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "invalid_request",
			"field":      invalid.Field,
			"reason":     invalid.Reason,
			"request_id": r.Header.Get("X-Request-Id"),
		})
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, string(runs.CodeRunNotFound))
	case errors.Is(err, runs.ErrNotOrganizer):
		api.writeError(w, r, http.StatusForbidden, string(runs.CodeNotOrganizer))
	case errors.Is(err, repo.ErrRunTerminal):
		api.writeError(w, r, http.StatusConflict, string(runs.CodeAlreadyTerminal))
	case errors.Is(err, repo.ErrRunNotLive):
		api.writeError(w, r, http.StatusConflict, "run_not_live")
	case errors.Is(err, runs.ErrRunLive):
		api.writeError(w, r, http.StatusConflict, "run_is_live")
	case errors.Is(err, repo.ErrOrganizerBusy):
		api.writeError(w, r, http.StatusConflict, "organizer_has_active_run")
	case errors.Is(err, runs.ErrScreenshotsDisabled):
		api.writeError(w, r, http.StatusNotImplemented, "screenshots_disabled")
	case errors.Is(err, objectstore.ErrUnsupportedContentType):
		api.writeError(w, r, http.StatusUnsupportedMediaType, "unsupported_media_type")
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "request_id", r.Header.Get("X-Request-Id"), "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func transitionStatus(code runs.ErrorCode) int {
	switch code {
	case runs.CodeRunNotFound:
		return http.StatusNotFound
	case runs.CodeNotOrganizer:
		return http.StatusForbidden
	case runs.CodeAlreadyTerminal, runs.CodeInvalidTransition:
		return http.StatusConflict
	case runs.CodeMissingPartyLocation, runs.CodeMissingScreenshot:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *runsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *runsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

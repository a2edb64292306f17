package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sjkd23/console-sub003/internal/domain"
)

const streamBuffer = 16

func writeSSE(w http.ResponseWriter, event string, id string, payload any) error {
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", blob); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// handleStreamRun pushes a "run" event every time the run changes. Slow
// readers miss intermediate updates rather than blocking the notifier.
func (api *runsAPI) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	guildID, runID, ok := api.runPath(w, r)
	if !ok {
		return
	}
	if api.registry == nil {
		api.writeError(w, r, http.StatusNotImplemented, "streaming_disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.writeError(w, r, http.StatusInternalServerError, "streaming_not_supported")
		return
	}

	// Subscribe before the snapshot so no commit falls between the two.
	updates := make(chan domain.Run, streamBuffer)
	unsubscribe := api.registry.Subscribe(func(run domain.Run) {
		if run.GuildID != guildID || run.ID != runID {
			return
		}
		select {
		case updates <- run:
		default:
		}
	})
	defer unsubscribe()

	current, err := api.service.Get(r.Context(), guildID, runID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_ = writeSSE(w, "ready", "", map[string]any{
		"guild_id":   guildID,
		"run_id":     runID,
		"server_ts":  time.Now().UTC().Unix(),
		"request_id": r.Header.Get("X-Request-Id"),
	})
	seq := int64(1)
	if err := writeSSE(w, "run", strconv.FormatInt(seq, 10), current); err != nil {
		return
	}
	if current.Terminal {
		_ = writeSSE(w, "end", "", map[string]any{"status": current.Status})
		return
	}

	heartbeat := time.NewTicker(api.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case run := <-updates:
			if run.UpdatedAt.Before(current.UpdatedAt) {
				continue
			}
			seq++
			view := api.service.View(run)
			if err := writeSSE(w, "run", strconv.FormatInt(seq, 10), view); err != nil {
				return
			}
			if view.Terminal {
				_ = writeSSE(w, "end", "", map[string]any{"status": view.Status})
				return
			}
		}
	}
}

package main

import (
	"errors"
	"net/http"
)

func (api *runsAPI) handlePutScreenshot(w http.ResponseWriter, r *http.Request) {
	guildID, runID, ok := api.runPath(w, r)
	if !ok {
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.ContentLength <= 0 {
		api.writeError(w, r, http.StatusLengthRequired, "content_length_required")
		return
	}
	if r.ContentLength > api.maxUpload {
		api.writeError(w, r, http.StatusRequestEntityTooLarge, "screenshot_too_large")
		return
	}

	body := http.MaxBytesReader(w, r.Body, api.maxUpload)
	view, err := api.service.AttachScreenshot(r.Context(), guildID, runID, actor, r.Header.Get("Content-Type"), body, r.ContentLength)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.writeError(w, r, http.StatusRequestEntityTooLarge, "screenshot_too_large")
			return
		}
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, view)
}

package repo

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict means the stored status no longer matched the
	// expected one when a transition was committed.
	ErrStatusConflict    = errors.New("run status changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrganizerBusy     = errors.New("organizer already has an open or live run")
	ErrRunNotLive        = errors.New("run is not live")
	ErrRunTerminal       = errors.New("run is ended or cancelled")
	ErrRunActive         = errors.New("run is open or live")
)

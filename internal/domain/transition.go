package domain

import "strings"

// Rejection is why the transition table refused a move.
type Rejection string

const (
	RejectNone              Rejection = ""
	RejectAlreadyTerminal   Rejection = "already_terminal"
	RejectInvalidTransition Rejection = "invalid_transition"
	RejectMissingPartyLoc   Rejection = "missing_party_location"
	RejectMissingScreenshot Rejection = "missing_screenshot"
)

type MissingFields struct {
	Party    bool `json:"party"`
	Location bool `json:"location"`
}

type TransitionCheck struct {
	Allowed bool
	Reject  Rejection
	Missing MissingFields
}

var allowedTransitions = map[RunStatus][]RunStatus{
	RunStatusOpen: {RunStatusLive, RunStatusCancelled},
	RunStatusLive: {RunStatusEnded, RunStatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the table,
// ignoring preconditions.
func CanTransition(from, to RunStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition validates moving run to target. requiresScreenshot is the
// dungeon's screenshot gate for open -> live.
func CheckTransition(run Run, to RunStatus, requiresScreenshot bool) TransitionCheck {
	if run.Status.Terminal() {
		return TransitionCheck{Reject: RejectAlreadyTerminal}
	}
	if !CanTransition(run.Status, to) {
		return TransitionCheck{Reject: RejectInvalidTransition}
	}
	if run.Status == RunStatusOpen && to == RunStatusLive {
		missing := MissingFields{
			Party:    isBlank(run.Party),
			Location: isBlank(run.Location),
		}
		if missing.Party || missing.Location {
			return TransitionCheck{Reject: RejectMissingPartyLoc, Missing: missing}
		}
		if requiresScreenshot && isBlank(run.ScreenshotURL) {
			return TransitionCheck{Reject: RejectMissingScreenshot}
		}
	}
	return TransitionCheck{Allowed: true}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

package runs

import (
	"errors"
	"fmt"

	"github.com/sjkd23/console-sub003/internal/domain"
)

type ErrorCode string

const (
	CodeRunNotFound          ErrorCode = "RUN_NOT_FOUND"
	CodeNotOrganizer         ErrorCode = "NOT_ORGANIZER"
	CodeAlreadyTerminal      ErrorCode = "ALREADY_TERMINAL"
	CodeInvalidTransition    ErrorCode = "INVALID_STATUS_TRANSITION"
	CodeMissingPartyLocation ErrorCode = "MISSING_PARTY_LOCATION"
	CodeMissingScreenshot    ErrorCode = "MISSING_SCREENSHOT"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// ErrorCodes is the closed set of transition error codes.
var ErrorCodes = []ErrorCode{
	CodeRunNotFound,
	CodeNotOrganizer,
	CodeAlreadyTerminal,
	CodeInvalidTransition,
	CodeMissingPartyLocation,
	CodeMissingScreenshot,
	CodeInternal,
}

type Detail struct {
	Missing *domain.MissingFields `json:"missing,omitempty"`
	From    domain.RunStatus      `json:"from,omitempty"`
	To      domain.RunStatus      `json:"to,omitempty"`
	Message string                `json:"message,omitempty"`
}

type TransitionError struct {
	Code   ErrorCode
	Detail Detail
	// Err is set for CodeInternal.
	Err error
}

func (e *TransitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Detail.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail.Message)
	}
	return string(e.Code)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func internalError(err error) *TransitionError {
	return &TransitionError{Code: CodeInternal, Err: err}
}

// InProgressError means the same action on the same run is already running.
type InProgressError struct {
	HolderLabel string
}

func (e *InProgressError) Error() string {
	if e.HolderLabel == "" {
		return "transition already in progress"
	}
	return "transition already in progress by " + e.HolderLabel
}

// CodeOf returns the code carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Code, true
	}
	return "", false
}

var (
	ErrNotOrganizer        = errors.New("actor may not manage this run")
	ErrRunLive             = errors.New("run is live")
	ErrScreenshotsDisabled = errors.New("screenshot storage is not configured")
	ErrUnknownDungeon      = errors.New("unknown dungeon")
)

// ValidationError rejects a malformed request before any state is read.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

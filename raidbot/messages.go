package main

import (
	"errors"
	"strings"
)

// userMessage renders a runs-api failure for the member who clicked.
func userMessage(err error) string {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return "Something went wrong talking to the raid service. Please try again."
	}

	switch apiErr.Code {
	case "transition_in_progress":
		if apiErr.Holder != "" {
			return "That action is already being processed by " + apiErr.Holder + ". Try again in a moment."
		}
		return "That action is already being processed. Try again in a moment."
	case "RUN_NOT_FOUND":
		return "This run no longer exists."
	case "NOT_ORGANIZER":
		return "Only the organizer or a raid organizer can manage this run."
	case "ALREADY_TERMINAL":
		return "This run has already ended or been cancelled."
	case "INVALID_STATUS_TRANSITION":
		if apiErr.Detail.From != "" && apiErr.Detail.To != "" {
			return "A run cannot go from " + apiErr.Detail.From + " to " + apiErr.Detail.To + "."
		}
		return "That status change is not allowed right now."
	case "MISSING_PARTY_LOCATION":
		return missingFieldsMessage(apiErr)
	case "MISSING_SCREENSHOT":
		return "This dungeon needs a completion screenshot before it can go live. Submit one with the screenshot command first."
	case "run_not_live":
		return "Keys can only be popped while the run is live."
	case "unauthorized", "forbidden":
		return "The raid service rejected your identity. Ask staff to check the bot setup."
	case "INTERNAL_ERROR", "internal_error":
		return "The raid service hit an internal error. Please try again."
	default:
		return "The raid service rejected the request (" + apiErr.Code + ")."
	}
}

func missingFieldsMessage(apiErr *apiError) string {
	m := apiErr.Detail.Missing
	if m == nil {
		return "Set the party and location before starting the run."
	}
	var fields []string
	if m.Party {
		fields = append(fields, "party")
	}
	if m.Location {
		fields = append(fields, "location")
	}
	if len(fields) == 0 {
		return "Set the party and location before starting the run."
	}
	return "Set the " + strings.Join(fields, " and ") + " before starting the run."
}

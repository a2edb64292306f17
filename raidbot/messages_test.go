package main

import (
	"errors"
	"strings"
	"testing"
)

func TestUserMessageCoversEveryCode(t *testing.T) {
	codes := []string{
		"RUN_NOT_FOUND",
		"NOT_ORGANIZER",
		"ALREADY_TERMINAL",
		"INVALID_STATUS_TRANSITION",
		"MISSING_PARTY_LOCATION",
		"MISSING_SCREENSHOT",
		"INTERNAL_ERROR",
	}
	seen := map[string]string{}
	for _, code := range codes {
		msg := userMessage(&apiError{Code: code})
		if strings.Contains(msg, code) {
			t.Fatalf("%s fell through to the generic message: %q", code, msg)
		}
		if other, dup := seen[msg]; dup {
			t.Fatalf("%s and %s share a message", code, other)
		}
		seen[msg] = code
	}
}

func TestUserMessageMissingFields(t *testing.T) {
	err := &apiError{Code: "MISSING_PARTY_LOCATION"}
	err.Detail.Missing = &struct {
		Party    bool `json:"party"`
		Location bool `json:"location"`
	}{Location: true}
	if got := userMessage(err); got != "Set the location before starting the run." {
		t.Fatalf("unexpected message: %q", got)
	}
	err.Detail.Missing.Party = true
	if got := userMessage(err); got != "Set the party and location before starting the run." {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestUserMessageTransportFailure(t *testing.T) {
	if got := userMessage(errors.New("dial tcp: refused")); !strings.Contains(got, "try again") {
		t.Fatalf("unexpected message: %q", got)
	}
}

package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Identity is the acting Discord member as asserted by the caller. Roles
// carries the member's guild role IDs.
type Identity struct {
	Subject string
	Label   string
	Roles   []string
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

func (i Identity) DisplayLabel() string {
	if strings.TrimSpace(i.Label) != "" {
		return strings.TrimSpace(i.Label)
	}
	return i.Subject
}

func (i Identity) HasAnyRole(roles ...string) bool {
	for _, want := range roles {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		for _, have := range i.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

package access

import (
	"context"
	"errors"
	"testing"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/repo"
)

type staticResolver struct {
	role string
	ok   bool
	err  error
}

func (s staticResolver) ResolveOrganizerRole(ctx context.Context, guildID string) (string, bool, error) {
	return s.role, s.ok, s.err
}

type fakeSettings struct {
	settings domain.GuildSettings
	err      error
}

func (f fakeSettings) GetGuildSettings(ctx context.Context, guildID string) (domain.GuildSettings, error) {
	return f.settings, f.err
}

func (f fakeSettings) UpsertGuildSettings(ctx context.Context, s domain.GuildSettings) (domain.GuildSettings, error) {
	return s, nil
}

func TestCheckAccess(t *testing.T) {
	gate := NewGate(staticResolver{role: "org-role", ok: true})
	tests := []struct {
		name     string
		actor    string
		roles    []string
		allowed  bool
		original bool
	}{
		{name: "organizer", actor: "111", allowed: true, original: true},
		{name: "staff with role", actor: "222", roles: []string{"x", "org-role"}, allowed: true},
		{name: "member without role", actor: "333", roles: []string{"x"}},
		{name: "blank actor", actor: ""},
	}
	for _, tc := range tests {
		got, err := gate.CheckAccess(context.Background(), "g1", tc.actor, "111", tc.roles)
		if err != nil {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
		if got.Allowed != tc.allowed || got.IsOriginalOrganizer != tc.original {
			t.Fatalf("%s: decision=%+v", tc.name, got)
		}
		if !got.Allowed && got.Message == "" {
			t.Fatalf("%s: denial must carry a message", tc.name)
		}
	}
}

func TestCheckAccess_NoConfiguredRole(t *testing.T) {
	gate := NewGate(staticResolver{})
	got, err := gate.CheckAccess(context.Background(), "g1", "222", "111", []string{""})
	if err != nil || got.Allowed {
		t.Fatalf("decision=%+v err=%v", got, err)
	}
}

func TestCheckAccess_ResolverFailure(t *testing.T) {
	gate := NewGate(staticResolver{err: errors.New("db down")})
	if _, err := gate.CheckAccess(context.Background(), "g1", "222", "111", nil); err == nil {
		t.Fatalf("expected resolver error")
	}
	// The organizer never needs the resolver.
	got, err := gate.CheckAccess(context.Background(), "g1", "111", "111", nil)
	if err != nil || !got.Allowed {
		t.Fatalf("organizer decision=%+v err=%v", got, err)
	}
}

func TestSettingsResolver(t *testing.T) {
	ctx := context.Background()
	configured := SettingsResolver{Settings: fakeSettings{settings: domain.GuildSettings{OrganizerRoleID: "r1"}}, FallbackRole: "fb"}
	if role, ok, err := configured.ResolveOrganizerRole(ctx, "g1"); err != nil || !ok || role != "r1" {
		t.Fatalf("configured=(%q,%v,%v)", role, ok, err)
	}

	missing := SettingsResolver{Settings: fakeSettings{err: repo.ErrNotFound}, FallbackRole: "fb"}
	if role, ok, err := missing.ResolveOrganizerRole(ctx, "g1"); err != nil || !ok || role != "fb" {
		t.Fatalf("fallback=(%q,%v,%v)", role, ok, err)
	}

	none := SettingsResolver{Settings: fakeSettings{err: repo.ErrNotFound}}
	if _, ok, err := none.ResolveOrganizerRole(ctx, "g1"); err != nil || ok {
		t.Fatalf("none ok=%v err=%v", ok, err)
	}

	broken := SettingsResolver{Settings: fakeSettings{err: errors.New("db down")}, FallbackRole: "fb"}
	if _, _, err := broken.ResolveOrganizerRole(ctx, "g1"); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestMemberHasRole(t *testing.T) {
	if !MemberHasRole([]string{" a ", "b"}, "a") {
		t.Fatalf("expected match")
	}
	if MemberHasRole([]string{"a"}, "") {
		t.Fatalf("empty role must never match")
	}
}

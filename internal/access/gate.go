// Package access decides whether a member may act on a run.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/repo"
)

// Resolver finds the guild's configured organizer role. ok is false when
// the guild has none.
type Resolver interface {
	ResolveOrganizerRole(ctx context.Context, guildID string) (roleID string, ok bool, err error)
}

type Decision struct {
	Allowed             bool
	IsOriginalOrganizer bool
	Message             string
}

type Gate struct {
	resolver Resolver
}

func NewGate(resolver Resolver) *Gate {
	return &Gate{resolver: resolver}
}

// CheckAccess never returns an error for a denial; err is reserved for a
// failing resolver.
func (g *Gate) CheckAccess(ctx context.Context, guildID, actorID, organizerID string, actorRoles []string) (Decision, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID != "" && actorID == strings.TrimSpace(organizerID) {
		return Decision{Allowed: true, IsOriginalOrganizer: true}, nil
	}

	if g != nil && g.resolver != nil {
		roleID, ok, err := g.resolver.ResolveOrganizerRole(ctx, guildID)
		if err != nil {
			return Decision{}, fmt.Errorf("resolve organizer role: %w", err)
		}
		if ok && MemberHasRole(actorRoles, roleID) {
			return Decision{Allowed: true}, nil
		}
	}

	return Decision{
		Allowed: false,
		Message: "Only the run organizer or a member with the organizer role can manage this run.",
	}, nil
}

func MemberHasRole(roles []string, roleID string) bool {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return false
	}
	for _, r := range roles {
		if strings.TrimSpace(r) == roleID {
			return true
		}
	}
	return false
}

// SettingsResolver reads the organizer role from guild settings, falling
// back to a deployment-wide role when the guild has not configured one.
type SettingsResolver struct {
	Settings     repo.GuildSettingsRepository
	FallbackRole string
}

func (r SettingsResolver) ResolveOrganizerRole(ctx context.Context, guildID string) (string, bool, error) {
	var settings domain.GuildSettings
	if r.Settings != nil {
		var err error
		settings, err = r.Settings.GetGuildSettings(ctx, guildID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return "", false, err
		}
	}
	if role := strings.TrimSpace(settings.OrganizerRoleID); role != "" {
		return role, true, nil
	}
	if role := strings.TrimSpace(r.FallbackRole); role != "" {
		return role, true, nil
	}
	return "", false, nil
}

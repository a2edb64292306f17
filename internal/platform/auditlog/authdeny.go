package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/sjkd23/console-sub003/internal/platform/auth"
)

func InsertAuthDeny(ctx context.Context, db Execer, service string, event auth.DenyEvent) error {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}

	var ip net.IP
	host, _, err := net.SplitHostPort(event.RemoteAddr)
	if err == nil {
		ip = net.ParseIP(host)
	}

	return Insert(ctx, db, Event{
		OccurredAt:   event.Time,
		GuildID:      guildFromPath(event.Path),
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
			"label":   event.Label,
			"roles":   event.Roles,
		},
	})
}

// guildFromPath returns the guild segment of /guilds/{guild_id}/... paths.
func guildFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/guilds/")
	if !ok {
		return ""
	}
	guildID, _, _ := strings.Cut(rest, "/")
	return strings.TrimSpace(guildID)
}

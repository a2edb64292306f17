// Package discord wraps the Discord REST calls run side effects make.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/sjkd23/console-sub003/internal/domain"
)

// ErrMissingPermissions is returned when the bot lacks the permission for
// a call. It is a real failure, unlike an already-deleted resource.
var ErrMissingPermissions = errors.New("discord: missing permissions")

type restAPI interface {
	GuildRoleDelete(guildID, roleID string, options ...discordgo.RequestOption) error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

type Client struct {
	api    restAPI
	logger *slog.Logger
}

// NewSession opens a REST-only session; the gateway is not connected.
func NewSession(cfg Config) (*discordgo.Session, error) {
	if cfg.Token == "" {
		return nil, errors.New("RUNS_DISCORD_BOT_TOKEN is required")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Client = &http.Client{Timeout: cfg.RequestTimeout}
	s.UserAgent = "raids (https://github.com/sjkd23/console-sub003, 1.0)"
	return s, nil
}

func NewClient(session *discordgo.Session, logger *slog.Logger) *Client {
	return newClient(session, logger)
}

func newClient(api restAPI, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, logger: logger}
}

// DeleteRole deletes a guild role. A role that is already gone counts as
// deleted.
func (c *Client) DeleteRole(ctx context.Context, guildID, roleID string) (bool, error) {
	if strings.TrimSpace(roleID) == "" {
		return true, nil
	}
	err := c.api.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx))
	switch code := restCode(err); {
	case err == nil:
		return true, nil
	case code == discordgo.ErrCodeUnknownRole:
		c.logger.Info("role already deleted", "guild_id", guildID, "role_id", roleID)
		return true, nil
	case code == discordgo.ErrCodeMissingPermissions:
		return false, fmt.Errorf("delete role %s: %w", roleID, ErrMissingPermissions)
	default:
		return false, fmt.Errorf("delete role %s: %w", roleID, err)
	}
}

// SendPing announces a run going live in its channel and returns the new
// message ID. Runs without a channel are skipped.
func (c *Client) SendPing(ctx context.Context, run domain.Run) (string, error) {
	if run.ChannelID == "" {
		return "", nil
	}
	msg, err := c.api.ChannelMessageSendComplex(run.ChannelID, PingMessage(run), discordgo.WithContext(ctx))
	if err != nil {
		if restCode(err) == discordgo.ErrCodeMissingPermissions {
			return "", fmt.Errorf("send ping: %w", ErrMissingPermissions)
		}
		return "", fmt.Errorf("send ping: %w", err)
	}
	if msg == nil {
		return "", nil
	}
	return msg.ID, nil
}

// DeleteMessage removes a message; a missing message or channel is not an
// error.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if channelID == "" || messageID == "" {
		return nil
	}
	err := c.api.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	switch code := restCode(err); {
	case err == nil:
		return nil
	case code == discordgo.ErrCodeUnknownMessage, code == discordgo.ErrCodeUnknownChannel:
		return nil
	case code == discordgo.ErrCodeMissingPermissions:
		return fmt.Errorf("delete message %s: %w", messageID, ErrMissingPermissions)
	default:
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
}

// PingMessage builds the live announcement. Only the run role is
// mentionable.
func PingMessage(run domain.Run) *discordgo.MessageSend {
	var b strings.Builder
	if run.RoleID != "" {
		fmt.Fprintf(&b, "<@&%s> ", run.RoleID)
	}
	label := run.DungeonLabel
	if label == "" {
		label = run.DungeonKey
	}
	fmt.Fprintf(&b, "**%s** is now live!", label)
	if run.Party != "" {
		fmt.Fprintf(&b, "\nParty: **%s**", run.Party)
	}
	if run.Location != "" {
		fmt.Fprintf(&b, "\nLocation: **%s**", run.Location)
	}
	if run.MessageID != "" {
		fmt.Fprintf(&b, "\nhttps://discord.com/channels/%s/%s/%s", run.GuildID, run.ChannelID, run.MessageID)
	}

	mentions := &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
	if run.RoleID != "" {
		mentions.Roles = []string{run.RoleID}
	}
	return &discordgo.MessageSend{Content: b.String(), AllowedMentions: mentions}
}

func restCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code
	}
	return 0
}

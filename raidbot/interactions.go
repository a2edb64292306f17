package main

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sjkd23/console-sub003/internal/platform/auth"
)

const (
	actionStart   = "start"
	actionEnd     = "end"
	actionCancel  = "cancel"
	actionKeyPop  = "keypop"
	actionDismiss = "dismiss"

	confirmPrefix = "confirm-"
)

// targetStatus maps a button action to the run status it requests.
var targetStatus = map[string]string{
	actionStart:  "live",
	actionEnd:    "ended",
	actionCancel: "cancelled",
}

// buttonPress is a parsed custom ID of the form run:<action>:<runID>.
// Confirmation buttons use the action confirm-<action>.
type buttonPress struct {
	Action    string
	RunID     int64
	Confirmed bool
}

func parseCustomID(customID string) (buttonPress, bool) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] != "run" {
		return buttonPress{}, false
	}
	runID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || runID <= 0 {
		return buttonPress{}, false
	}
	press := buttonPress{Action: parts[1], RunID: runID}
	if action, ok := strings.CutPrefix(press.Action, confirmPrefix); ok {
		press.Action = action
		press.Confirmed = true
	}
	switch press.Action {
	case actionStart, actionEnd, actionCancel:
	case actionKeyPop, actionDismiss:
		if press.Confirmed {
			return buttonPress{}, false
		}
	default:
		return buttonPress{}, false
	}
	return press, true
}

func customID(action string, runID int64) string {
	return "run:" + action + ":" + strconv.FormatInt(runID, 10)
}

type runsBackend interface {
	Transition(ctx context.Context, member auth.Identity, guildID string, runID int64, status string) (runSummary, error)
	CheckAccess(ctx context.Context, member auth.Identity, guildID string, runID int64) (accessResult, error)
	KeyPop(ctx context.Context, member auth.Identity, guildID string, runID int64) (runSummary, error)
}

// reply is the ephemeral answer shown to the member who clicked.
type reply struct {
	Content    string
	Components []discordgo.MessageComponent
}

type interactionHandler struct {
	api     runsBackend
	logger  *slog.Logger
	timeout time.Duration
}

func (h *interactionHandler) handle(ctx context.Context, guildID string, member auth.Identity, press buttonPress) reply {
	switch press.Action {
	case actionDismiss:
		return reply{Content: "Okay, nothing was changed."}
	case actionKeyPop:
		run, err := h.api.KeyPop(ctx, member, guildID, press.RunID)
		if err != nil {
			h.logFailure(guildID, member, press, err)
			return reply{Content: userMessage(err)}
		}
		return reply{Content: "Key popped. Total keys: " + strconv.Itoa(run.KeyPops) + "."}
	}

	if !press.Confirmed {
		access, err := h.api.CheckAccess(ctx, member, guildID, press.RunID)
		if err != nil {
			h.logFailure(guildID, member, press, err)
			return reply{Content: userMessage(err)}
		}
		if !access.Allowed {
			msg := access.Message
			if msg == "" {
				msg = userMessage(&apiError{Code: "NOT_ORGANIZER"})
			}
			return reply{Content: msg}
		}
		if access.NeedsConfirmation {
			return confirmationReply(access, press)
		}
	}

	run, err := h.api.Transition(ctx, member, guildID, press.RunID, targetStatus[press.Action])
	if err != nil {
		h.logFailure(guildID, member, press, err)
		return reply{Content: userMessage(err)}
	}
	label := run.StatusLabel
	if label == "" {
		label = run.Status
	}
	return reply{Content: "Run is now " + label + "."}
}

func confirmationReply(access accessResult, press buttonPress) reply {
	organizer := access.Run.OrganizerLabel
	if organizer == "" {
		organizer = "<@" + access.Run.OrganizerID + ">"
	}
	return reply{
		Content: "This run belongs to " + organizer + ". Do you want to " + press.Action + " it anyway?",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Yes, " + press.Action + " it",
					Style:    discordgo.DangerButton,
					CustomID: customID(confirmPrefix+press.Action, press.RunID),
				},
				discordgo.Button{
					Label:    "No",
					Style:    discordgo.SecondaryButton,
					CustomID: customID(actionDismiss, press.RunID),
				},
			}},
		},
	}
}

func (h *interactionHandler) logFailure(guildID string, member auth.Identity, press buttonPress, err error) {
	h.logger.Warn("run action failed",
		"guild_id", guildID,
		"run_id", press.RunID,
		"action", press.Action,
		"member_id", member.Subject,
		"error", err,
	)
}

func memberIdentity(m *discordgo.Member) auth.Identity {
	if m == nil || m.User == nil {
		return auth.Identity{}
	}
	label := m.Nick
	if label == "" {
		label = m.User.GlobalName
	}
	if label == "" {
		label = m.User.Username
	}
	return auth.Identity{Subject: m.User.ID, Label: label, Roles: m.Roles}
}

// interactionResponder is the part of the Discord session the bot answers
// interactions with.
type interactionResponder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// onInteraction acknowledges a button press, runs it, and edits the
// deferred ephemeral reply with the outcome.
func (h *interactionHandler) onInteraction(ctx context.Context, s interactionResponder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	press, ok := parseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		h.logger.Error("interaction ack failed", "interaction_id", i.ID, "error", err)
		return
	}

	var out reply
	if i.Member == nil || i.GuildID == "" {
		out = reply{Content: "Run buttons only work inside a server."}
	} else {
		out = h.handle(ctx, i.GuildID, memberIdentity(i.Member), press)
	}

	components := out.Components
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content:    &out.Content,
		Components: &components,
	}, discordgo.WithContext(ctx)); err != nil {
		h.logger.Error("interaction reply failed", "interaction_id", i.ID, "error", err)
	}
}

package effects

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/executor"
)

type RoleDeleter interface {
	// DeleteRole reports true when the role is gone, including when it was
	// already absent.
	DeleteRole(ctx context.Context, guildID, roleID string) (bool, error)
}

// RoleCleanup deletes the per-run role when a run reaches a terminal state.
type RoleCleanup struct {
	Roles  RoleDeleter
	Logger *slog.Logger
}

func (RoleCleanup) Name() string { return "role_cleanup" }

func (c RoleCleanup) RunChanged(ctx context.Context, change domain.RunChange) error {
	if !change.To.Terminal() || change.Run.RoleID == "" || c.Roles == nil {
		return nil
	}
	deleted, err := c.Roles.DeleteRole(ctx, change.Run.GuildID, change.Run.RoleID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("role %s was not deleted", change.Run.RoleID)
	}
	if c.Logger != nil {
		c.Logger.Info("run role deleted", "guild_id", change.Run.GuildID, "run_id", change.Run.ID, "role_id", change.Run.RoleID)
	}
	return nil
}

type Pinger interface {
	SendPing(ctx context.Context, run domain.Run) (messageID string, err error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type PingRecorder interface {
	SetPingMessage(ctx context.Context, guildID string, runID int64, channelID, messageID string) error
}

// PingDispatch announces a run going live and removes the announcement once
// the run is over.
type PingDispatch struct {
	Pinger   Pinger
	Recorder PingRecorder
}

func (PingDispatch) Name() string { return "ping" }

func (c PingDispatch) RunChanged(ctx context.Context, change domain.RunChange) error {
	if c.Pinger == nil {
		return nil
	}
	run := change.Run
	switch {
	case change.To == domain.RunStatusLive:
		messageID, err := c.Pinger.SendPing(ctx, run)
		if err != nil {
			return err
		}
		if messageID == "" || c.Recorder == nil {
			return nil
		}
		if err := c.Recorder.SetPingMessage(ctx, run.GuildID, run.ID, run.ChannelID, messageID); err != nil {
			return fmt.Errorf("record ping message: %w", err)
		}
		return nil
	case change.To.Terminal():
		if run.PingMessageID == "" {
			return nil
		}
		// The run's channel may have been edited since the ping went out.
		channelID := run.PingChannelID
		if channelID == "" {
			channelID = run.ChannelID
		}
		if err := c.Pinger.DeleteMessage(ctx, channelID, run.PingMessageID); err != nil {
			return err
		}
		if c.Recorder != nil {
			if err := c.Recorder.SetPingMessage(ctx, run.GuildID, run.ID, "", ""); err != nil {
				return fmt.Errorf("clear ping message: %w", err)
			}
		}
		return nil
	}
	return nil
}

type QuotaAwarder interface {
	AwardForEndedRun(ctx context.Context, run domain.Run) (bool, error)
}

type TaskSubmitter interface {
	Submit(task executor.Task) error
}

// QuotaTrigger hands quota evaluation for an ended run to the background
// executor and returns without waiting for it.
type QuotaTrigger struct {
	Quota    QuotaAwarder
	Executor TaskSubmitter
}

func (QuotaTrigger) Name() string { return "quota" }

func (c QuotaTrigger) RunChanged(ctx context.Context, change domain.RunChange) error {
	if change.To != domain.RunStatusEnded || c.Quota == nil || c.Executor == nil {
		return nil
	}
	run := change.Run
	err := c.Executor.Submit(executor.Task{
		Name: "quota.award",
		Key:  fmt.Sprintf("%s/%d", run.GuildID, run.ID),
		Run: func(ctx context.Context) error {
			_, err := c.Quota.AwardForEndedRun(ctx, run)
			return err
		},
	})
	if err != nil {
		return fmt.Errorf("submit quota award: %w", err)
	}
	return nil
}

type AuditSink interface {
	LogStatusChange(ctx context.Context, change domain.RunChange) error
}

// Audit records every committed transition.
type Audit struct {
	Sink AuditSink
}

func (Audit) Name() string { return "audit" }

func (c Audit) RunChanged(ctx context.Context, change domain.RunChange) error {
	if c.Sink == nil {
		return nil
	}
	return c.Sink.LogStatusChange(ctx, change)
}

// Notify forwards transitions to panel subscribers.
type Notify struct {
	Registry *Registry
}

func (Notify) Name() string { return "notify" }

func (c Notify) RunChanged(ctx context.Context, change domain.RunChange) error {
	c.Registry.NotifyRunChanged(change.Run)
	return nil
}

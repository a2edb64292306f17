package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/lock"
	"github.com/sjkd23/console-sub003/internal/repo"
)

const (
	maxFreeTextLen = 100
	maxKeyPopDelta = 25
)

type CreateRequest struct {
	GuildID     string
	DungeonKey  string
	Organizer   Actor
	Party       string
	Location    string
	ChainAmount *int
	KeyWindow   time.Duration
	RoleID      string
	ChannelID   string
	MessageID   string
	RequestID   string
}

// Create opens a new run. An organizer with another open or live run gets
// repo.ErrOrganizerBusy.
func (s *Service) Create(ctx context.Context, req CreateRequest) (RunView, error) {
	if strings.TrimSpace(req.GuildID) == "" {
		return RunView{}, &ValidationError{Field: "guild_id", Reason: "required"}
	}
	if strings.TrimSpace(req.Organizer.ID) == "" {
		return RunView{}, &ValidationError{Field: "organizer_id", Reason: "required"}
	}
	if s.catalog == nil {
		return RunView{}, errors.New("dungeon catalog is not configured")
	}
	dungeon, ok := s.catalog.Lookup(req.DungeonKey)
	if !ok {
		return RunView{}, &ValidationError{Field: "dungeon_key", Reason: ErrUnknownDungeon.Error()}
	}
	if err := validateFreeText("party", req.Party); err != nil {
		return RunView{}, err
	}
	if err := validateFreeText("location", req.Location); err != nil {
		return RunView{}, err
	}
	if req.ChainAmount != nil && *req.ChainAmount < 1 {
		return RunView{}, &ValidationError{Field: "chain_amount", Reason: "must be >= 1"}
	}
	if req.KeyWindow < 0 {
		return RunView{}, &ValidationError{Field: "key_window", Reason: "must not be negative"}
	}

	now := s.now().UTC()
	run := domain.Run{
		GuildID:        req.GuildID,
		DungeonKey:     dungeon.Key,
		DungeonLabel:   dungeon.Label,
		OrganizerID:    req.Organizer.ID,
		OrganizerLabel: req.Organizer.Label,
		Status:         domain.RunStatusOpen,
		CreatedAt:      now,
		Party:          strings.TrimSpace(req.Party),
		Location:       strings.TrimSpace(req.Location),
		ChainAmount:    req.ChainAmount,
		RoleID:         req.RoleID,
		ChannelID:      req.ChannelID,
		MessageID:      req.MessageID,
		UpdatedAt:      now,
	}
	if req.KeyWindow > 0 {
		ends := now.Add(req.KeyWindow)
		run.KeyWindowEndsAt = &ends
	}

	created, err := s.runs.CreateRun(ctx, run)
	if err != nil {
		return RunView{}, fmt.Errorf("create run: %w", err)
	}
	s.logger.Info("run created",
		"guild_id", created.GuildID, "run_id", created.ID, "dungeon", created.DungeonKey,
		"organizer_id", created.OrganizerID, "request_id", req.RequestID)
	s.notify(created)
	return s.view(created), nil
}

func (s *Service) Get(ctx context.Context, guildID string, runID int64) (RunView, error) {
	run, err := s.runs.GetRun(ctx, guildID, runID)
	if err != nil {
		return RunView{}, err
	}
	return s.view(run), nil
}

func (s *Service) List(ctx context.Context, filter repo.RunFilter) ([]RunView, error) {
	runs, err := s.runs.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]RunView, 0, len(runs))
	for _, run := range runs {
		out = append(out, s.view(run))
	}
	return out, nil
}

// Update edits run details. Terminal runs are read-only.
func (s *Service) Update(ctx context.Context, guildID string, runID int64, actor Actor, patch repo.RunPatch) (RunView, error) {
	if patch.Empty() {
		return RunView{}, &ValidationError{Field: "body", Reason: "no fields to update"}
	}
	if patch.Party != nil {
		if err := validateFreeText("party", *patch.Party); err != nil {
			return RunView{}, err
		}
		trimmed := strings.TrimSpace(*patch.Party)
		patch.Party = &trimmed
	}
	if patch.Location != nil {
		if err := validateFreeText("location", *patch.Location); err != nil {
			return RunView{}, err
		}
		trimmed := strings.TrimSpace(*patch.Location)
		patch.Location = &trimmed
	}
	if patch.ChainAmount != nil && *patch.ChainAmount < 1 {
		return RunView{}, &ValidationError{Field: "chain_amount", Reason: "must be >= 1"}
	}

	if _, err := s.authorize(ctx, guildID, runID, actor); err != nil {
		return RunView{}, err
	}
	updated, err := s.runs.UpdateRun(ctx, guildID, runID, patch)
	if err != nil {
		return RunView{}, err
	}
	s.notify(updated)
	return s.view(updated), nil
}

// KeyPop adds delta to the run's key-pop counter. Only live runs count pops.
func (s *Service) KeyPop(ctx context.Context, guildID string, runID int64, actor Actor, delta int) (RunView, error) {
	if delta == 0 {
		delta = 1
	}
	if delta < 1 || delta > maxKeyPopDelta {
		return RunView{}, &ValidationError{Field: "count", Reason: fmt.Sprintf("must be between 1 and %d", maxKeyPopDelta)}
	}
	if _, err := s.authorize(ctx, guildID, runID, actor); err != nil {
		return RunView{}, err
	}
	updated, err := s.runs.IncrementKeyPops(ctx, guildID, runID, delta)
	if err != nil {
		return RunView{}, err
	}
	s.notify(updated)
	return s.view(updated), nil
}

// AttachScreenshot stores an image and records its URL on the run.
func (s *Service) AttachScreenshot(ctx context.Context, guildID string, runID int64, actor Actor, contentType string, body io.Reader, size int64) (RunView, error) {
	if s.screenshots == nil {
		return RunView{}, ErrScreenshotsDisabled
	}
	run, err := s.authorize(ctx, guildID, runID, actor)
	if err != nil {
		return RunView{}, err
	}
	if run.Status.Terminal() {
		return RunView{}, repo.ErrRunTerminal
	}
	url, err := s.screenshots.Put(ctx, guildID, runID, contentType, body, size)
	if err != nil {
		return RunView{}, fmt.Errorf("store screenshot: %w", err)
	}
	updated, err := s.runs.SetScreenshotURL(ctx, guildID, runID, url)
	if err != nil {
		removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := s.screenshots.Remove(removeCtx, url); rerr != nil {
			s.logger.Warn("orphaned screenshot not removed", "guild_id", guildID, "run_id", runID, "url", url, "error", rerr)
		}
		return RunView{}, err
	}
	s.logger.Info("run screenshot attached", "guild_id", guildID, "run_id", runID, "actor_id", actor.ID)
	s.notify(updated)
	return s.view(updated), nil
}

// Delete removes a run that is not live. An open run is first cancelled
// under the cancel lock and through the same compare-and-set as a cancel
// transition, so its side effects fire once.
func (s *Service) Delete(ctx context.Context, guildID string, runID int64, actor Actor, requestID string) error {
	err := lock.Guard(ctx, s.locks, s.logger, TransitionLockKey(runID, domain.RunStatusCancelled), lock.Actor{ID: actor.ID, Label: actor.Label}, s.lockTTL,
		func(ctx context.Context) error {
			return s.deleteLocked(ctx, guildID, runID, actor, requestID)
		})
	var held *lock.HeldError
	if errors.As(err, &held) {
		s.metrics.LockContended(held.Key.Action)
		return &InProgressError{HolderLabel: held.HolderLabel}
	}
	return err
}

func (s *Service) deleteLocked(ctx context.Context, guildID string, runID int64, actor Actor, requestID string) error {
	run, err := s.authorize(ctx, guildID, runID, actor)
	if err != nil {
		return err
	}

	if run.Status == domain.RunStatusOpen {
		at := s.now().UTC()
		cancelled, err := s.runs.TransitionStatus(ctx, guildID, runID, domain.RunStatusOpen, domain.RunStatusCancelled, at)
		switch {
		case err == nil:
			s.logger.Info("run transitioned",
				"guild_id", guildID, "run_id", runID,
				"from", string(domain.RunStatusOpen), "to", string(domain.RunStatusCancelled),
				"actor_id", actor.ID, "request_id", requestID)
			if s.effects != nil {
				s.effects.RunChanged(ctx, domain.RunChange{
					Run:        cancelled,
					From:       domain.RunStatusOpen,
					To:         domain.RunStatusCancelled,
					ActorID:    actor.ID,
					ActorLabel: actor.Label,
					At:         at,
					RequestID:  requestID,
				})
			}
			run = cancelled
		case errors.Is(err, repo.ErrStatusConflict):
			fresh, err := s.runs.GetRun(ctx, guildID, runID)
			if err != nil {
				return err
			}
			run = fresh
		default:
			return fmt.Errorf("cancel run: %w", err)
		}
	}

	if run.Status == domain.RunStatusLive {
		return ErrRunLive
	}
	if err := s.runs.DeleteRun(ctx, guildID, runID); err != nil {
		if errors.Is(err, repo.ErrRunActive) {
			return ErrRunLive
		}
		return err
	}
	s.logger.Info("run deleted", "guild_id", guildID, "run_id", runID, "status", string(run.Status), "actor_id", actor.ID, "request_id", requestID)
	return nil
}

// authorize loads the run and checks the actor against the gate.
func (s *Service) authorize(ctx context.Context, guildID string, runID int64, actor Actor) (domain.Run, error) {
	run, err := s.runs.GetRun(ctx, guildID, runID)
	if err != nil {
		return domain.Run{}, err
	}
	decision, err := s.gate.CheckAccess(ctx, run.GuildID, actor.ID, run.OrganizerID, actor.Roles)
	if err != nil {
		return domain.Run{}, fmt.Errorf("check access: %w", err)
	}
	if !decision.Allowed {
		return domain.Run{}, fmt.Errorf("%w: %s", ErrNotOrganizer, decision.Message)
	}
	return run, nil
}

func validateFreeText(field, value string) error {
	if len(strings.TrimSpace(value)) > maxFreeTextLen {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", maxFreeTextLen)}
	}
	return nil
}

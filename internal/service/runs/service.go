package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sjkd23/console-sub003/internal/access"
	"github.com/sjkd23/console-sub003/internal/catalog"
	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/lock"
	"github.com/sjkd23/console-sub003/internal/platform/metrics"
	"github.com/sjkd23/console-sub003/internal/repo"
)

// Effects receives every committed transition.
type Effects interface {
	RunChanged(ctx context.Context, change domain.RunChange)
}

// Notifier is told about run edits. Transitions reach subscribers through
// Effects.
type Notifier interface {
	NotifyRunChanged(run domain.Run)
}

type Gate interface {
	CheckAccess(ctx context.Context, guildID, actorID, organizerID string, actorRoles []string) (access.Decision, error)
}

type DungeonCatalog interface {
	Lookup(key string) (catalog.Dungeon, bool)
	RequiresScreenshot(dungeonKey string) bool
}

type ScreenshotStore interface {
	Put(ctx context.Context, guildID string, runID int64, contentType string, body io.Reader, size int64) (string, error)
	Remove(ctx context.Context, url string) error
}

type Actor struct {
	ID    string
	Label string
	Roles []string
}

type TransitionRequest struct {
	GuildID   string
	RunID     int64
	To        domain.RunStatus
	Actor     Actor
	RequestID string
}

type Deps struct {
	Runs        repo.RunRepository
	Gate        Gate
	Locks       lock.Manager
	Catalog     DungeonCatalog
	Effects     Effects
	Notifier    Notifier
	Screenshots ScreenshotStore
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	LockTTL     time.Duration
	Now         func() time.Time
}

type Service struct {
	runs        repo.RunRepository
	gate        Gate
	locks       lock.Manager
	catalog     DungeonCatalog
	effects     Effects
	notifier    Notifier
	screenshots ScreenshotStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	lockTTL     time.Duration
	now         func() time.Time
}

func New(deps Deps) (*Service, error) {
	if deps.Runs == nil {
		return nil, errors.New("run repository is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("access gate is required")
	}
	if deps.Locks == nil {
		return nil, errors.New("lock manager is required")
	}
	s := &Service{
		runs:        deps.Runs,
		gate:        deps.Gate,
		locks:       deps.Locks,
		catalog:     deps.Catalog,
		effects:     deps.Effects,
		notifier:    deps.Notifier,
		screenshots: deps.Screenshots,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		lockTTL:     deps.LockTTL,
		now:         deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.lockTTL <= 0 {
		s.lockTTL = lock.DefaultTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// unknownStatusLabel stands in for unparseable targets in metrics.
const unknownStatusLabel domain.RunStatus = "unknown"

// TransitionLockKey is the lock a transition to the given status takes.
func TransitionLockKey(runID int64, to domain.RunStatus) lock.Key {
	return lock.Key{Action: "status:" + string(to), RunID: runID}
}

// Transition moves a run to req.To. Business rejections return
// *TransitionError, lock contention *InProgressError.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (RunView, error) {
	started := s.now()
	to, ok := domain.NormalizeRunStatus(string(req.To))
	if !ok {
		err := &TransitionError{Code: CodeInvalidTransition, Detail: Detail{To: req.To, Message: "unknown status"}}
		s.observe(unknownStatusLabel, err, started)
		return RunView{}, err
	}
	req.To = to

	var view RunView
	err := lock.Guard(ctx, s.locks, s.logger, TransitionLockKey(req.RunID, to), lock.Actor{ID: req.Actor.ID, Label: req.Actor.Label}, s.lockTTL,
		func(ctx context.Context) error {
			var err error
			view, err = s.transitionLocked(ctx, req)
			return err
		})

	var held *lock.HeldError
	switch {
	case err == nil:
	case errors.As(err, &held):
		s.metrics.LockContended(held.Key.Action)
		s.logger.Info("transition already in progress",
			"guild_id", req.GuildID, "run_id", req.RunID, "to", string(to),
			"actor_id", req.Actor.ID, "holder", held.HolderLabel, "request_id", req.RequestID)
		s.metrics.ObserveTransition(string(to), "in_progress", s.now().Sub(started))
		return RunView{}, &InProgressError{HolderLabel: held.HolderLabel}
	default:
		var te *TransitionError
		if !errors.As(err, &te) {
			err = internalError(err)
		}
		s.logTransitionError(req, err)
	}
	s.observe(to, err, started)
	if err != nil {
		return RunView{}, err
	}
	return view, nil
}

func (s *Service) transitionLocked(ctx context.Context, req TransitionRequest) (RunView, error) {
	run, err := s.runs.GetRun(ctx, req.GuildID, req.RunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return RunView{}, &TransitionError{Code: CodeRunNotFound}
		}
		return RunView{}, internalError(fmt.Errorf("load run: %w", err))
	}

	decision, err := s.gate.CheckAccess(ctx, run.GuildID, req.Actor.ID, run.OrganizerID, req.Actor.Roles)
	if err != nil {
		return RunView{}, internalError(fmt.Errorf("check access: %w", err))
	}
	if !decision.Allowed {
		return RunView{}, &TransitionError{Code: CodeNotOrganizer, Detail: Detail{Message: decision.Message}}
	}

	// A lost compare-and-set means another action moved the run; re-validate
	// against the fresh state and try once more.
	for attempt := 0; attempt < 2; attempt++ {
		if err := s.validate(run, req.To); err != nil {
			return RunView{}, err
		}

		at := s.now().UTC()
		updated, err := s.runs.TransitionStatus(ctx, run.GuildID, run.ID, run.Status, req.To, at)
		switch {
		case err == nil:
			change := domain.RunChange{
				Run:        updated,
				From:       run.Status,
				To:         req.To,
				ActorID:    req.Actor.ID,
				ActorLabel: req.Actor.Label,
				At:         at,
				RequestID:  req.RequestID,
			}
			s.logger.Info("run transitioned",
				"guild_id", run.GuildID, "run_id", run.ID,
				"from", string(run.Status), "to", string(req.To),
				"actor_id", req.Actor.ID, "request_id", req.RequestID)
			if s.effects != nil {
				s.effects.RunChanged(ctx, change)
			}
			return s.view(updated), nil
		case errors.Is(err, repo.ErrNotFound):
			return RunView{}, &TransitionError{Code: CodeRunNotFound}
		case errors.Is(err, repo.ErrStatusConflict):
			fresh, gerr := s.runs.GetRun(ctx, run.GuildID, run.ID)
			if gerr != nil {
				if errors.Is(gerr, repo.ErrNotFound) {
					return RunView{}, &TransitionError{Code: CodeRunNotFound}
				}
				return RunView{}, internalError(fmt.Errorf("reload run: %w", gerr))
			}
			s.logger.Info("run status changed concurrently",
				"run_id", run.ID, "expected", string(run.Status), "actual", string(fresh.Status), "request_id", req.RequestID)
			run = fresh
		case errors.Is(err, repo.ErrInvalidTransition):
			return RunView{}, &TransitionError{Code: CodeInvalidTransition, Detail: Detail{From: run.Status, To: req.To}}
		default:
			return RunView{}, internalError(fmt.Errorf("commit transition: %w", err))
		}
	}
	return RunView{}, internalError(fmt.Errorf("run %d kept changing during transition", run.ID))
}

func (s *Service) validate(run domain.Run, to domain.RunStatus) error {
	check := domain.CheckTransition(run, to, s.requiresScreenshot(run.DungeonKey))
	if check.Allowed {
		return nil
	}
	detail := Detail{From: run.Status, To: to}
	switch check.Reject {
	case domain.RejectAlreadyTerminal:
		return &TransitionError{Code: CodeAlreadyTerminal, Detail: detail}
	case domain.RejectMissingPartyLoc:
		missing := check.Missing
		detail.Missing = &missing
		return &TransitionError{Code: CodeMissingPartyLocation, Detail: detail}
	case domain.RejectMissingScreenshot:
		return &TransitionError{Code: CodeMissingScreenshot, Detail: detail}
	default:
		return &TransitionError{Code: CodeInvalidTransition, Detail: detail}
	}
}

// AccessView tells a caller whether the actor may act on a run, and whether
// a confirmation step is due because the actor is not the organizer.
type AccessView struct {
	Allowed             bool    `json:"allowed"`
	IsOriginalOrganizer bool    `json:"is_original_organizer"`
	NeedsConfirmation   bool    `json:"needs_confirmation"`
	Message             string  `json:"message,omitempty"`
	Run                 RunView `json:"run"`
}

func (s *Service) CheckAccess(ctx context.Context, guildID string, runID int64, actor Actor) (AccessView, error) {
	run, err := s.runs.GetRun(ctx, guildID, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return AccessView{}, &TransitionError{Code: CodeRunNotFound}
		}
		return AccessView{}, internalError(fmt.Errorf("load run: %w", err))
	}
	decision, err := s.gate.CheckAccess(ctx, run.GuildID, actor.ID, run.OrganizerID, actor.Roles)
	if err != nil {
		return AccessView{}, internalError(fmt.Errorf("check access: %w", err))
	}
	return AccessView{
		Allowed:             decision.Allowed,
		IsOriginalOrganizer: decision.IsOriginalOrganizer,
		NeedsConfirmation:   decision.Allowed && !decision.IsOriginalOrganizer,
		Message:             decision.Message,
		Run:                 s.view(run),
	}, nil
}

func (s *Service) requiresScreenshot(dungeonKey string) bool {
	return s.catalog != nil && s.catalog.RequiresScreenshot(dungeonKey)
}

func (s *Service) view(run domain.Run) RunView {
	return ViewOf(run, s.requiresScreenshot(run.DungeonKey), s.now())
}

// View renders run the way every service call does.
func (s *Service) View(run domain.Run) RunView {
	return s.view(run)
}

func (s *Service) notify(run domain.Run) {
	if s.notifier != nil {
		s.notifier.NotifyRunChanged(run)
	}
}

func (s *Service) observe(to domain.RunStatus, err error, started time.Time) {
	outcome := "ok"
	if code, ok := CodeOf(err); ok {
		outcome = strings.ToLower(string(code))
	} else if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveTransition(string(to), outcome, s.now().Sub(started))
}

func (s *Service) logTransitionError(req TransitionRequest, err error) {
	attrs := []any{
		"guild_id", req.GuildID,
		"run_id", req.RunID,
		"to", string(req.To),
		"actor_id", req.Actor.ID,
		"request_id", req.RequestID,
		"error", err,
	}
	if code, _ := CodeOf(err); code == CodeInternal {
		s.logger.Error("run transition failed", attrs...)
		return
	}
	s.logger.Info("run transition rejected", attrs...)
}

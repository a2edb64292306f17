// Package effects runs the side effects of a committed run transition.
//
// Every coordinator is isolated: an error is logged and counted, a panic is
// recovered, and neither reaches the caller. The committed status is never
// rolled back by a failing side effect.
package effects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sjkd23/console-sub003/internal/discord"
	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/platform/metrics"
)

const DefaultEffectTimeout = 10 * time.Second

// Coordinator reacts to one committed transition.
type Coordinator interface {
	Name() string
	RunChanged(ctx context.Context, change domain.RunChange) error
}

type Fanout struct {
	coordinators []Coordinator
	logger       *slog.Logger
	metrics      *metrics.Metrics
	timeout      time.Duration
}

func NewFanout(logger *slog.Logger, m *metrics.Metrics, coordinators ...Coordinator) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		coordinators: coordinators,
		logger:       logger,
		metrics:      m,
		timeout:      DefaultEffectTimeout,
	}
}

// WithTimeout sets the per-coordinator deadline.
func (f *Fanout) WithTimeout(d time.Duration) *Fanout {
	if d > 0 {
		f.timeout = d
	}
	return f
}

// RunChanged runs every coordinator in order. Request cancellation does not
// abort side effects of a committed transition.
func (f *Fanout) RunChanged(ctx context.Context, change domain.RunChange) {
	if f == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, c := range f.coordinators {
		f.runOne(base, c, change)
	}
}

func (f *Fanout) runOne(base context.Context, c Coordinator, change domain.RunChange) {
	ctx, cancel := context.WithTimeout(base, f.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if v := recover(); v != nil {
				err = fmt.Errorf("panic: %v", v)
			}
		}()
		return c.RunChanged(ctx, change)
	}()
	f.metrics.SideEffect(c.Name(), err)
	if err == nil {
		return
	}

	attrs := []any{
		"effect", c.Name(),
		"guild_id", change.Run.GuildID,
		"run_id", change.Run.ID,
		"from", string(change.From),
		"to", string(change.To),
		"request_id", change.RequestID,
		"error", err,
	}
	if errors.Is(err, discord.ErrMissingPermissions) {
		f.logger.Warn("side effect failed: bot is missing permissions", attrs...)
		return
	}
	f.logger.Warn("side effect failed", attrs...)
}

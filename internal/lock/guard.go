package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// HeldError reports that another actor holds the key.
type HeldError struct {
	Key         Key
	HolderLabel string
}

func (e *HeldError) Error() string {
	if e.HolderLabel == "" {
		return fmt.Sprintf("lock %s is held", e.Key)
	}
	return fmt.Sprintf("lock %s is held by %s", e.Key, e.HolderLabel)
}

type Actor struct {
	ID    string
	Label string
}

// Guard runs fn while holding key and releases it afterwards, including
// when fn fails or panics. Contention returns *HeldError without calling fn.
func Guard(ctx context.Context, m Manager, logger *slog.Logger, key Key, actor Actor, ttl time.Duration, fn func(ctx context.Context) error) error {
	res, err := m.Acquire(ctx, key, actor.ID, actor.Label, ttl)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	if !res.Acquired {
		return &HeldError{Key: key, HolderLabel: res.HolderLabel}
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := m.Release(releaseCtx, key, actor.ID); err != nil && logger != nil {
			logger.Error("lock release failed", "key", key.String(), "actor_id", actor.ID, "error", err)
		}
	}()

	return fn(ctx)
}

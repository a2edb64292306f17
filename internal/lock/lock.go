// Package lock provides the keyed, expiring mutex that keeps two
// transitions of the same run from interleaving.
package lock

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL bounds how long a crashed or hung holder can block a key.
const DefaultTTL = 30 * time.Second

// Key scopes a lock to one action on one run; different actions on the same
// run never contend.
type Key struct {
	Action string
	RunID  int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Action, k.RunID)
}

type Result struct {
	Acquired    bool
	HolderLabel string
}

type Entry struct {
	Key        string
	ActorID    string
	ActorLabel string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

type Manager interface {
	// Acquire never waits. A held, unexpired key returns Acquired=false and
	// the holder's label; an expired one is taken over.
	Acquire(ctx context.Context, key Key, actorID, actorLabel string, ttl time.Duration) (Result, error)
	// Release is a no-op unless actorID holds the key.
	Release(ctx context.Context, key Key, actorID string) error
	IsLocked(ctx context.Context, key Key) (bool, error)
}

// Lister is implemented by managers that can enumerate held keys.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

package lock

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const DefaultSweepInterval = 60 * time.Second

type memoryEntry struct {
	actorID    string
	actorLabel string
	acquiredAt time.Time
	ttl        time.Duration
}

func (e memoryEntry) expired(now time.Time) bool {
	return !now.Before(e.acquiredAt.Add(e.ttl))
}

// Memory is a single-process Manager.
type Memory struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type MemoryOption func(*Memory)

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(logger *slog.Logger, opts ...MemoryOption) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Memory{
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Acquire(ctx context.Context, key Key, actorID, actorLabel string, ttl time.Duration) (Result, error) {
	k := key.String()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.entries[k]; ok {
		if !held.expired(now) {
			return Result{Acquired: false, HolderLabel: held.actorLabel}, nil
		}
		m.logger.Warn("lock expired, reclaiming",
			"key", k,
			"stale_actor_id", held.actorID,
			"held_for_ms", now.Sub(held.acquiredAt).Milliseconds(),
			"actor_id", actorID,
		)
	}

	m.entries[k] = memoryEntry{
		actorID:    actorID,
		actorLabel: actorLabel,
		acquiredAt: now,
		ttl:        normalizeTTL(ttl),
	}
	return Result{Acquired: true}, nil
}

func (m *Memory) Release(ctx context.Context, key Key, actorID string) error {
	k := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.entries[k]
	if !ok {
		return nil
	}
	if held.actorID != actorID {
		m.logger.Warn("lock release by non-holder ignored", "key", k, "actor_id", actorID, "holder_id", held.actorID)
		return nil
	}
	delete(m.entries, k)
	return nil
}

func (m *Memory) IsLocked(ctx context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.entries[key.String()]
	return ok && !held.expired(m.now()), nil
}

func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	now := m.now()

	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for k, e := range m.entries {
		if e.expired(now) {
			continue
		}
		out = append(out, Entry{
			Key:        k,
			ActorID:    e.actorID,
			ActorLabel: e.actorLabel,
			AcquiredAt: e.acquiredAt,
			ExpiresAt:  e.acquiredAt.Add(e.ttl),
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Sweep drops expired entries and reports how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("swept expired locks", "removed", n)
			}
		}
	}
}

package effects

import (
	"sync"

	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/platform/metrics"
)

// Subscriber receives the latest snapshot of a changed run. It is called
// synchronously and must not block.
type Subscriber func(run domain.Run)

// Registry decouples run changes from whatever renders them.
type Registry struct {
	mu      sync.RWMutex
	next    uint64
	subs    map[uint64]Subscriber
	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{subs: map[uint64]Subscriber{}, metrics: m}
}

// Subscribe registers fn and returns a func that removes it. The returned
// func is safe to call more than once.
func (r *Registry) Subscribe(fn Subscriber) (unsubscribe func()) {
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = fn
	r.metrics.Subscribers(len(r.subs))
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.metrics.Subscribers(len(r.subs))
			r.mu.Unlock()
		})
	}
}

func (r *Registry) NotifyRunChanged(run domain.Run) {
	if r == nil {
		return
	}
	r.mu.RLock()
	subs := make([]Subscriber, 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.RUnlock()

	for _, fn := range subs {
		fn(run)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

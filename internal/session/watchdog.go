package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long an untouched session lives.
const DefaultTTL = time.Hour

// ExpireFunc is called after the watchdog removed a session that was still pending.
type ExpireFunc func(s Session)

// Watchdog removes sessions TTL after their creation.
// One timer is armed per session; a session consumed before its deadline makes the timer's
// removal a no-op.
type Watchdog struct {
	registry *Registry
	ttl      time.Duration
	onExpire ExpireFunc

	mu       sync.Mutex
	timers   map[uuid.UUID]*time.Timer
	stopped  bool
	expiring sync.WaitGroup
	now      func() time.Time
}

// WatchdogOption customises a Watchdog.
type WatchdogOption func(*Watchdog)

// WithExpireHook registers fn to run for every session that expired unconsumed.
func WithExpireHook(fn ExpireFunc) WatchdogOption {
	return func(w *Watchdog) { w.onExpire = fn }
}

// NewWatchdog creates a watchdog over registry. A non-positive ttl selects DefaultTTL.
func NewWatchdog(registry *Registry, ttl time.Duration, opts ...WatchdogOption) *Watchdog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	w := &Watchdog{
		registry: registry,
		ttl:      ttl,
		timers:   make(map[uuid.UUID]*time.Timer),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TTL returns the configured session lifetime.
func (w *Watchdog) TTL() time.Duration { return w.ttl }

// Watch schedules removal of id at createdAt+TTL. A deadline already in the past fires
// immediately.
func (w *Watchdog) Watch(id uuid.UUID, createdAt time.Time) {
	delay := createdAt.Add(w.ttl).Sub(w.now())
	if delay < 0 {
		delay = 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.timers[id] = time.AfterFunc(delay, func() { w.expire(id) })
}

func (w *Watchdog) expire(id uuid.UUID) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	delete(w.timers, id)
	w.expiring.Add(1)
	w.mu.Unlock()
	defer w.expiring.Done()

	s, err := w.registry.Take(id)
	if err != nil {
		return
	}
	if w.onExpire != nil {
		w.onExpire(s)
	}
}

// Cancel disarms the timer for id, if any. Used once a session was consumed.
func (w *Watchdog) Cancel(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[id]; ok {
		t.Stop()
		delete(w.timers, id)
	}
}

// Pending returns the number of armed timers.
func (w *Watchdog) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

// Stop disarms every timer and waits for expire hooks that already started. Sessions stay
// in the registry.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.stopped = true
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()
	w.expiring.Wait()
}

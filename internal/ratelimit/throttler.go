package ratelimit

import (
	"context"
	"sync"
	"time"
)

type throttleEntry struct {
	index     int
	updatedAt time.Time
}

// Throttler enforces an escalating wait between attempts for the same key.
// The n-th allowed attempt must come at least schedule[n-1] after the
// previous allowed one; once the schedule is exhausted the last step
// repeats.  Denied attempts do not move the clock.
type Throttler struct {
	schedule []time.Duration
	idleTTL  time.Duration
	now      Clock

	mu      sync.Mutex
	entries map[string]*throttleEntry
}

// NewThrottler copies schedule.  Entries untouched for idleTTL are swept;
// the default is twice the last step, but never under a minute.
func NewThrottler(schedule []time.Duration, opts ...Option) *Throttler {
	if len(schedule) == 0 {
		panic("ratelimit: throttler needs a non-empty schedule")
	}
	o := buildOptions(opts)
	idle := o.idleTTL
	if idle <= 0 {
		idle = 2 * schedule[len(schedule)-1]
		if idle < time.Minute {
			idle = time.Minute
		}
	}
	return &Throttler{
		schedule: append([]time.Duration(nil), schedule...),
		idleTTL:  idle,
		now:      o.now,
		entries:  make(map[string]*throttleEntry),
	}
}

// Consume reports whether an attempt for key is allowed right now and, if
// so, escalates the wait for the next one.
func (t *Throttler) Consume(_ context.Context, key string) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		t.entries[key] = &throttleEntry{index: 0, updatedAt: now}
		return true
	}
	if now.Sub(e.updatedAt) < t.schedule[e.index] {
		return false
	}
	e.updatedAt = now
	if e.index < len(t.schedule)-1 {
		e.index++
	}
	return true
}

// Reset clears the backoff for key, typically after a successful login.
func (t *Throttler) Reset(_ context.Context, key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

// Sweep drops keys idle for longer than the idle TTL.
func (t *Throttler) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.entries {
		if now.Sub(e.updatedAt) >= t.idleTTL {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

func (t *Throttler) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

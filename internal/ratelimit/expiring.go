package ratelimit

import (
	"context"
	"sync"
	"time"
)

type expiringEntry struct {
	count     int
	createdAt time.Time
}

// ExpiringTokenBucket grants capacity tokens per key for a fixed window.
// Tokens do not trickle back: once the window measured from the first
// consume has elapsed, the whole entry starts over at full capacity.
type ExpiringTokenBucket struct {
	capacity int
	window   time.Duration
	now      Clock

	mu      sync.Mutex
	entries map[string]*expiringEntry
}

func NewExpiringTokenBucket(capacity int, window time.Duration, opts ...Option) *ExpiringTokenBucket {
	if capacity < 1 || window <= 0 {
		panic("ratelimit: expiring bucket needs positive capacity and window")
	}
	o := buildOptions(opts)
	return &ExpiringTokenBucket{
		capacity: capacity,
		window:   window,
		now:      o.now,
		entries:  make(map[string]*expiringEntry),
	}
}

func (b *ExpiringTokenBucket) Capacity() int { return b.capacity }

// Check reports whether cost tokens are available without consuming them.
func (b *ExpiringTokenBucket) Check(_ context.Context, key string, cost int) bool {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || b.expired(e, now) {
		return cost <= b.capacity
	}
	return e.count >= cost
}

// Consume removes cost tokens from the current window.
func (b *ExpiringTokenBucket) Consume(_ context.Context, key string, cost int) bool {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || b.expired(e, now) {
		if cost > b.capacity {
			return false
		}
		b.entries[key] = &expiringEntry{count: b.capacity - cost, createdAt: now}
		return true
	}
	if e.count < cost {
		return false
	}
	e.count -= cost
	return true
}

// Reset deletes the key, typically after the guarded action succeeded.
func (b *ExpiringTokenBucket) Reset(_ context.Context, key string) {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
}

// Sweep drops entries whose window has elapsed.
func (b *ExpiringTokenBucket) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k, e := range b.entries {
		if b.expired(e, now) {
			delete(b.entries, k)
			n++
		}
	}
	return n
}

func (b *ExpiringTokenBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *ExpiringTokenBucket) expired(e *expiringEntry, now time.Time) bool {
	return now.Sub(e.createdAt) >= b.window
}

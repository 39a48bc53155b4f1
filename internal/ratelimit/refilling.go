package ratelimit

import (
	"context"
	"sync"
	"time"
)

type refillEntry struct {
	count      int
	refilledAt time.Time
}

// RefillingTokenBucket holds up to capacity tokens per key and adds one
// token back every interval.  Refill happens lazily on access in whole
// ticks; refilledAt only advances by the ticks actually credited so partial
// progress towards the next token is never lost.
type RefillingTokenBucket struct {
	capacity int
	interval time.Duration
	now      Clock

	mu      sync.Mutex
	entries map[string]*refillEntry
}

// NewRefillingTokenBucket panics on a non-positive capacity or interval;
// policies are validated when configuration is loaded.
func NewRefillingTokenBucket(capacity int, interval time.Duration, opts ...Option) *RefillingTokenBucket {
	if capacity < 1 || interval <= 0 {
		panic("ratelimit: refilling bucket needs positive capacity and interval")
	}
	o := buildOptions(opts)
	return &RefillingTokenBucket{
		capacity: capacity,
		interval: interval,
		now:      o.now,
		entries:  make(map[string]*refillEntry),
	}
}

// Capacity reports the bucket size, used for X-RateLimit-Limit.
func (b *RefillingTokenBucket) Capacity() int { return b.capacity }

// Check reports whether cost tokens are available without consuming them.
func (b *RefillingTokenBucket) Check(_ context.Context, key string, cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return cost <= b.capacity
	}
	count, _ := b.refilled(e, b.now())
	return count >= cost
}

// Consume removes cost tokens and reports whether it could.  A key seen for
// the first time starts at capacity-cost.  When fewer than cost tokens are
// available nothing is deducted.
func (b *RefillingTokenBucket) Consume(_ context.Context, key string, cost int) bool {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		if cost > b.capacity {
			return false
		}
		b.entries[key] = &refillEntry{count: b.capacity - cost, refilledAt: now}
		return true
	}
	count, refilledAt := b.refilled(e, now)
	if count < cost {
		return false
	}
	e.count = count - cost
	e.refilledAt = refilledAt
	return true
}

// Reset forgets the key; its next consume starts from a full bucket.
func (b *RefillingTokenBucket) Reset(_ context.Context, key string) {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
}

// Sweep drops entries that have refilled to capacity.  A missing key
// behaves like a full one, so nothing observable changes.
func (b *RefillingTokenBucket) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k, e := range b.entries {
		if count, _ := b.refilled(e, now); count >= b.capacity {
			delete(b.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of tracked keys.
func (b *RefillingTokenBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// refilled returns the token count and refill timestamp after crediting
// every whole interval elapsed since e.refilledAt.  A clock that moved
// backwards credits nothing.
func (b *RefillingTokenBucket) refilled(e *refillEntry, now time.Time) (int, time.Time) {
	elapsed := now.Sub(e.refilledAt)
	if elapsed < b.interval {
		return e.count, e.refilledAt
	}
	ticks := int64(elapsed / b.interval)
	count := e.count
	if missing := int64(b.capacity - e.count); ticks >= missing {
		count = b.capacity
	} else {
		count += int(ticks)
	}
	return count, e.refilledAt.Add(time.Duration(ticks) * b.interval)
}

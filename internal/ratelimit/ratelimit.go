// Package ratelimit implements the token buckets and the backoff throttler
// that guard authentication endpoints.  Every limiter is keyed by a string
// (client IP, user id or session id) and comes in two flavours: an
// in-process implementation guarded by a mutex, and a Redis implementation
// for deployments that run more than one instance.
package ratelimit

import (
	"context"
	"time"
)

// Clock returns the current time.  Tests inject a fake one.
type Clock func() time.Time

// Bucket is a token bucket keyed by string.  Check never mutates state;
// Consume removes cost tokens only when enough are available.
type Bucket interface {
	Check(ctx context.Context, key string, cost int) bool
	Consume(ctx context.Context, key string, cost int) bool
	Reset(ctx context.Context, key string)
}

// Gate is a single-step limiter such as the login Throttler.
type Gate interface {
	Consume(ctx context.Context, key string) bool
	Reset(ctx context.Context, key string)
}

// Sweeper is implemented by in-memory limiters so the janitor can drop
// entries that no longer carry information.
type Sweeper interface {
	Sweep(now time.Time) int
}

type options struct {
	now        Clock
	failClosed bool
	idleTTL    time.Duration
	prefix     string
}

// Option customises a limiter.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.now = c
		}
	}
}

// WithFailClosed makes a Redis-backed limiter deny requests when Redis
// cannot be reached.  The default lets them through.
func WithFailClosed() Option {
	return func(o *options) { o.failClosed = true }
}

// WithIdleTTL sets how long an untouched throttler entry is kept.
func WithIdleTTL(d time.Duration) Option {
	return func(o *options) { o.idleTTL = d }
}

// WithPrefix namespaces Redis keys.
func WithPrefix(p string) Option {
	return func(o *options) { o.prefix = p }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, prefix: "rl"}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

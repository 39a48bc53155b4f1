package ratelimit

import (
	"context"
	"fmt"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/storefront/internal/config"
)

// Limits is the set of named limiters the HTTP layer consults.
type Limits struct {
	Global             Bucket
	LoginIP            Bucket
	LoginUser          Gate
	SignupIP           Bucket
	ContactIP          Bucket
	ForgotPasswordIP   Bucket
	ForgotPasswordUser Bucket
	TOTP               Bucket
	TOTPSetup          Bucket
	RecoveryCode       Bucket
	VerificationEmail  Bucket
	EmailCode          Bucket
	ResetEmailCode     Bucket
	PasswordUpdate     Bucket

	sweepers []Sweeper
}

// NewLimits builds every policy in cfg.  Redis is used when the backend asks
// for it and a client is available; otherwise limiters live in process and
// are returned as sweepers for the janitor.
func NewLimits(cfg config.RateLimitConfig, rdb redis.UniversalClient, now Clock) (*Limits, error) {
	useRedis := cfg.Backend == "redis" && rdb != nil
	if cfg.Backend == "redis" && rdb == nil {
		log.Warn("ratelimit: redis backend requested but unavailable, using in-memory limiters")
	}
	l := &Limits{}
	bucket := func(name string) (Bucket, error) {
		p, ok := cfg.Policies[name]
		if !ok {
			return nil, fmt.Errorf("ratelimit: no policy named %q", name)
		}
		opts := []Option{WithClock(now), WithPrefix(cfg.Prefix)}
		if p.FailClosed {
			opts = append(opts, WithFailClosed())
		}
		switch p.Kind {
		case config.KindRefilling:
			if useRedis {
				return NewRedisRefillingBucket(rdb, name, p.Capacity, p.Interval, opts...), nil
			}
			b := NewRefillingTokenBucket(p.Capacity, p.Interval, opts...)
			l.sweepers = append(l.sweepers, b)
			return b, nil
		case config.KindExpiring:
			if useRedis {
				return NewRedisExpiringBucket(rdb, name, p.Capacity, p.Interval, opts...), nil
			}
			b := NewExpiringTokenBucket(p.Capacity, p.Interval, opts...)
			l.sweepers = append(l.sweepers, b)
			return b, nil
		}
		return nil, fmt.Errorf("ratelimit: policy %q is a %s, want a bucket", name, p.Kind)
	}
	gate := func(name string) (Gate, error) {
		p, ok := cfg.Policies[name]
		if !ok {
			return nil, fmt.Errorf("ratelimit: no policy named %q", name)
		}
		if p.Kind != config.KindThrottler {
			return nil, fmt.Errorf("ratelimit: policy %q is a %s, want a throttler", name, p.Kind)
		}
		opts := []Option{WithClock(now), WithPrefix(cfg.Prefix)}
		if p.FailClosed {
			opts = append(opts, WithFailClosed())
		}
		if useRedis {
			return NewRedisThrottler(rdb, name, p.Schedule, opts...), nil
		}
		t := NewThrottler(p.Schedule, opts...)
		l.sweepers = append(l.sweepers, t)
		return t, nil
	}

	var err error
	for _, b := range []struct {
		name string
		dst  *Bucket
	}{
		{config.LimitGlobal, &l.Global},
		{config.LimitLoginIP, &l.LoginIP},
		{config.LimitSignupIP, &l.SignupIP},
		{config.LimitContactIP, &l.ContactIP},
		{config.LimitForgotPasswordIP, &l.ForgotPasswordIP},
		{config.LimitForgotPasswordUser, &l.ForgotPasswordUser},
		{config.LimitTOTP, &l.TOTP},
		{config.LimitTOTPSetup, &l.TOTPSetup},
		{config.LimitRecoveryCode, &l.RecoveryCode},
		{config.LimitVerificationEmail, &l.VerificationEmail},
		{config.LimitEmailCode, &l.EmailCode},
		{config.LimitResetEmailCode, &l.ResetEmailCode},
		{config.LimitPasswordUpdate, &l.PasswordUpdate},
	} {
		if *b.dst, err = bucket(b.name); err != nil {
			return nil, err
		}
	}
	if l.LoginUser, err = gate(config.LimitLoginUser); err != nil {
		return nil, err
	}
	return l, nil
}

// StartJanitor sweeps the in-memory limiters every interval until ctx ends.
// It is a no-op for Redis-backed limiters, which expire on their own.
func (l *Limits) StartJanitor(ctx context.Context, cfg config.RateLimitConfig, now Clock) {
	StartJanitor(ctx, cfg.SweepInterval, now, l.sweepers...)
}

// Sweepers exposes the in-memory limiters, mostly for tests.
func (l *Limits) Sweepers() []Sweeper { return l.sweepers }

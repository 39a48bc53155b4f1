package ratelimit

import (
	"context"
	"time"

	"github.com/labstack/gommon/log"
)

// StartJanitor sweeps every in-memory limiter on each tick until ctx is
// cancelled.  It returns immediately; the sweeping runs on its own
// goroutine.
func StartJanitor(ctx context.Context, interval time.Duration, now Clock, sweepers ...Sweeper) {
	if len(sweepers) == 0 || interval <= 0 {
		return
	}
	if now == nil {
		now = time.Now
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				SweepAll(now(), sweepers...)
			}
		}
	}()
}

// SweepAll runs one sweep over every limiter and returns the number of
// entries dropped.
func SweepAll(now time.Time, sweepers ...Sweeper) int {
	total := 0
	for _, s := range sweepers {
		total += s.Sweep(now)
	}
	if total > 0 {
		log.Debugf("ratelimit: swept %d idle entries", total)
	}
	return total
}

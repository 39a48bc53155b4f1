package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestExpiringBucketQuotaPerWindow(t *testing.T) {
	clk := newFakeClock()
	b := NewExpiringTokenBucket(5, 30*time.Minute, WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !b.Consume(ctx, "user-1", 1) {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
		clk.Advance(time.Minute)
	}
	if b.Consume(ctx, "user-1", 1) {
		t.Fatalf("sixth attempt inside the window must be refused")
	}
	if b.Check(ctx, "user-1", 1) {
		t.Fatalf("check must agree with consume")
	}
}

func TestExpiringBucketNoTrickleRefill(t *testing.T) {
	clk := newFakeClock()
	b := NewExpiringTokenBucket(3, time.Hour, WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Consume(ctx, "k", 1)
	}
	clk.Advance(59 * time.Minute)
	if b.Consume(ctx, "k", 1) {
		t.Fatalf("tokens must not come back before the window ends")
	}
}

func TestExpiringBucketResetsAfterWindow(t *testing.T) {
	clk := newFakeClock()
	b := NewExpiringTokenBucket(3, 10*time.Minute, WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Consume(ctx, "k", 1)
	}
	clk.Advance(10 * time.Minute)
	if !b.Check(ctx, "k", 3) {
		t.Fatalf("an expired window reports full capacity")
	}
	if !b.Consume(ctx, "k", 1) {
		t.Fatalf("consume after the window should start a new one")
	}
	// the new window started at the consume above
	clk.Advance(9 * time.Minute)
	b.Consume(ctx, "k", 1)
	b.Consume(ctx, "k", 1)
	if b.Consume(ctx, "k", 1) {
		t.Fatalf("new window must carry a fresh quota, not an unlimited one")
	}
}

func TestExpiringBucketReset(t *testing.T) {
	b := NewExpiringTokenBucket(1, time.Hour)
	ctx := context.Background()

	b.Consume(ctx, "k", 1)
	if b.Consume(ctx, "k", 1) {
		t.Fatalf("bucket should be empty")
	}
	b.Reset(ctx, "k")
	if !b.Consume(ctx, "k", 1) {
		t.Fatalf("reset must restore full capacity")
	}
}

func TestExpiringBucketCheckDoesNotCreateEntries(t *testing.T) {
	b := NewExpiringTokenBucket(2, time.Minute)
	ctx := context.Background()
	if !b.Check(ctx, "fresh", 2) {
		t.Fatalf("unknown key has full capacity")
	}
	if b.Len() != 0 {
		t.Fatalf("check must not mutate state")
	}
}

func TestExpiringBucketSweep(t *testing.T) {
	clk := newFakeClock()
	b := NewExpiringTokenBucket(2, time.Minute, WithClock(clk.Now))
	ctx := context.Background()

	b.Consume(ctx, "old", 1)
	clk.Advance(30 * time.Second)
	b.Consume(ctx, "new", 1)
	clk.Advance(30 * time.Second)

	if n := b.Sweep(clk.Now()); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if b.Len() != 1 {
		t.Fatalf("len = %d, want 1", b.Len())
	}
}

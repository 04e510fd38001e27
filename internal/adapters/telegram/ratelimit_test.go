package telegram

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct {
	now    time.Time
	waits  []time.Duration
	failAt int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.waits = append(c.waits, d)
	if c.failAt > 0 && len(c.waits) == c.failAt {
		return context.Canceled
	}
	return nil
}

func newFakeLimiter(rps float64, burst int, clock *fakeClock) *RateLimiter {
	l := NewRateLimiter(rps, burst)
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l
}

func TestRateLimiterBurstThenWaits(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newFakeLimiter(1, 3, clock)

	for i := 0; i < 3; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if len(clock.waits) != 0 {
		t.Fatalf("burst should not wait, got %v", clock.waits)
	}

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire 4: %v", err)
	}
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire 5: %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(clock.waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, clock.waits)
	}
	for i := range want {
		if clock.waits[i] != want[i] {
			t.Fatalf("wait %d: expected %v, got %v", i, want[i], clock.waits[i])
		}
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newFakeLimiter(2, 2, clock)

	for i := 0; i < 2; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	clock.now = clock.now.Add(time.Second)
	for i := 0; i < 2; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire after refill %d: %v", i, err)
		}
	}
	if len(clock.waits) != 0 {
		t.Fatalf("expected refilled bucket, got waits %v", clock.waits)
	}
}

func TestRateLimiterCancelReturnsToken(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), failAt: 1}
	limiter := newFakeLimiter(1, 1, clock)

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := limiter.Acquire(context.Background()); err == nil {
		t.Fatal("expected cancellation error")
	}
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("third acquire: %v", err)
	}
	if len(clock.waits) != 2 || clock.waits[1] != time.Second {
		t.Fatalf("cancelled reservation should be returned, waits %v", clock.waits)
	}
}

func TestRateLimiterCancelledContext(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Acquire(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	limiter := newFakeLimiter(0, 0, clock)
	for i := 0; i < 100; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if len(clock.waits) != 0 || limiter.Burst() != 1 {
		t.Fatalf("unexpected limiter state: waits=%v burst=%d", clock.waits, limiter.Burst())
	}
}

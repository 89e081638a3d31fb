package service

import (
	"context"
	"testing"
	"time"
)

// fakeClock lets tests move time by hand.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(rpm, tpm int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(rpm, tpm)
	l.now = clock.Now
	return l, clock
}

func TestRateLimiter_RequestBoundary(t *testing.T) {
	l, clock := newTestLimiter(10, 0)

	for i := 0; i < 10; i++ {
		if wait := l.WaitTime(0); wait != 0 {
			t.Fatalf("call %d should not wait, got %v", i+1, wait)
		}
		l.Record(100)
	}

	// The 11th call must wait until the oldest entry leaves the window.
	wait := l.WaitTime(0)
	if wait <= 0 {
		t.Errorf("11th call should wait, got %v", wait)
	}
	if wait > time.Minute {
		t.Errorf("wait must be at most one minute, got %v", wait)
	}

	clock.Advance(wait)
	if again := l.WaitTime(0); again != 0 {
		t.Errorf("after waiting, call should proceed without re-waiting, got %v", again)
	}
}

func TestRateLimiter_ExactWait(t *testing.T) {
	l, clock := newTestLimiter(2, 0)

	l.Record(0)
	clock.Advance(20 * time.Second)
	l.Record(0)
	clock.Advance(10 * time.Second)

	// Oldest entry is 30s old; it leaves the window in exactly 30s.
	if wait := l.WaitTime(0); wait != 30*time.Second {
		t.Errorf("expected exact 30s wait, got %v", wait)
	}
}

func TestRateLimiter_TokenBudget(t *testing.T) {
	l, clock := newTestLimiter(0, 1000)

	l.Record(900)
	if wait := l.WaitTime(50); wait != 0 {
		t.Errorf("within token budget, expected no wait, got %v", wait)
	}
	if wait := l.WaitTime(200); wait <= 0 {
		t.Errorf("over token budget, expected a wait, got %v", wait)
	}

	clock.Advance(time.Minute)
	if wait := l.WaitTime(200); wait != 0 {
		t.Errorf("after window expiry, expected no wait, got %v", wait)
	}
}

func TestRateLimiter_RecordsActualUsage(t *testing.T) {
	l, _ := newTestLimiter(0, 1000)

	// The estimate would have exceeded the budget, but actual usage
	// was small, so the next call fits.
	l.Record(100)
	if wait := l.WaitTime(850); wait != 0 {
		t.Errorf("window must reflect recorded usage, got wait %v", wait)
	}

	_, tokens := l.WindowUsage()
	if tokens != 100 {
		t.Errorf("expected 100 recorded tokens, got %d", tokens)
	}
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	l, _ := newTestLimiter(1, 0)
	l.Record(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Wait(ctx, 0); err == nil {
		t.Error("expected context error from Wait")
	}
}

func TestRateLimiter_UnlimitedWhenDisabled(t *testing.T) {
	l, _ := newTestLimiter(0, 0)
	for i := 0; i < 100; i++ {
		l.Record(10_000)
	}
	if wait := l.WaitTime(10_000); wait != 0 {
		t.Errorf("disabled budgets must never wait, got %v", wait)
	}
}

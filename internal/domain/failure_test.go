package domain

import (
	"testing"
	"time"
)

func TestRetryStrategy_ExponentialBackoff(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	base := time.Minute

	tests := []struct {
		retryCount int
		wantDelay  time.Duration
	}{
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
	}

	for _, tt := range tests {
		got := RetryExponential.NextRetryAt(now, base, tt.retryCount)
		if delay := got.Sub(now); delay != tt.wantDelay {
			t.Errorf("retryCount=%d: expected delay %v, got %v", tt.retryCount, tt.wantDelay, delay)
		}
	}
}

func TestRetryStrategy_ExponentialCap(t *testing.T) {
	now := time.Now()
	got := RetryExponential.NextRetryAt(now, time.Minute, 20)
	if delay := got.Sub(now); delay != time.Hour {
		t.Errorf("expected delay capped at one hour, got %v", delay)
	}

	// Shift counts large enough to overflow must also hit the cap.
	got = RetryExponential.NextRetryAt(now, time.Minute, 100)
	if delay := got.Sub(now); delay != time.Hour {
		t.Errorf("expected overflow-safe cap, got %v", delay)
	}
}

func TestRetryStrategy_LinearAndFixed(t *testing.T) {
	now := time.Now()
	base := 30 * time.Second

	if delay := RetryLinear.NextRetryAt(now, base, 3).Sub(now); delay != 90*time.Second {
		t.Errorf("linear retryCount=3: expected 90s, got %v", delay)
	}
	if delay := RetryFixed.NextRetryAt(now, base, 5).Sub(now); delay != base {
		t.Errorf("fixed retryCount=5: expected %v, got %v", base, delay)
	}
}

func TestFailedOperation_Exhausted(t *testing.T) {
	op := FailedOperation{RetryCount: 3, MaxRetries: 3}
	if !op.Exhausted() {
		t.Error("expected exhausted when retry count reaches budget")
	}

	op.RetryCount = 2
	if op.Exhausted() {
		t.Error("expected not exhausted below budget")
	}

	resolved := time.Now()
	op.RetryCount = 3
	op.ResolvedAt = &resolved
	if op.Exhausted() {
		t.Error("resolved operations are never exhausted")
	}
}

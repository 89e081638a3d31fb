package service

import (
	"context"
	"sync"
	"time"
)

const rateWindow = time.Minute

type rateEntry struct {
	at     time.Time
	tokens int
}

// RateLimiter throttles embedding calls against per-minute request and
// token budgets using a sliding window. Token usage is recorded after
// each call with the actual count the provider billed, so the window
// reflects real consumption rather than estimates.
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	tokensPerMinute   int
	entries           []rateEntry
	now               func() time.Time
}

// NewRateLimiter creates a limiter with the given per-minute budgets.
// Non-positive budgets disable the corresponding check.
func NewRateLimiter(requestsPerMinute, tokensPerMinute int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		tokensPerMinute:   tokensPerMinute,
		now:               time.Now,
	}
}

// prune drops window entries older than one minute. Callers must hold mu.
func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(l.entries) && !l.entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.entries = l.entries[i:]
	}
}

// WaitTime returns how long the caller must wait before issuing a call
// that is expected to consume estimatedTokens. Zero means the call may
// go now. The wait is exact: it is the moment the oldest window entry
// falls out of the window.
func (l *RateLimiter) WaitTime(estimatedTokens int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	overRequests := l.requestsPerMinute > 0 && len(l.entries) >= l.requestsPerMinute
	tokenSum := 0
	for _, e := range l.entries {
		tokenSum += e.tokens
	}
	overTokens := l.tokensPerMinute > 0 && len(l.entries) > 0 && tokenSum+estimatedTokens > l.tokensPerMinute

	if !overRequests && !overTokens {
		return 0
	}

	wait := l.entries[0].at.Add(rateWindow).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Wait blocks until the call may proceed or the context is done.
func (l *RateLimiter) Wait(ctx context.Context, estimatedTokens int) error {
	for {
		wait := l.WaitTime(estimatedTokens)
		if wait == 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Record adds a completed call to the window with its actual token
// usage.
func (l *RateLimiter) Record(tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, rateEntry{at: l.now(), tokens: tokens})
}

// WindowUsage reports the current window's request count and token sum.
func (l *RateLimiter) WindowUsage() (requests, tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	for _, e := range l.entries {
		tokens += e.tokens
	}
	return len(l.entries), tokens
}

package infra

import (
	"context"
	"sync"
	"time"
)

const (
	rateWindow     = time.Second
	eventRetention = 60 * time.Second
	acquirePoll    = 50 * time.Millisecond
)

// RateLimiter bounds operations with a sliding event window: at most
// ratePerSecond events in any trailing one-second span, and at most burst
// events across the whole retention window. Event times older than the
// retention are discarded lazily on each check.
// Thread-safe and shared by concurrent request paths.
type RateLimiter struct {
	ratePerSecond int
	burst         int

	mu     sync.Mutex
	events []time.Time
}

// NewRateLimiter creates a limiter admitting ratePerSecond sustained
// operations with short-term volume capped at burst.
func NewRateLimiter(ratePerSecond, burst int) *RateLimiter {
	return &RateLimiter{
		ratePerSecond: ratePerSecond,
		burst:         burst,
	}
}

// TryAcquire admits and records one operation if both windows have room.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.cleanup(now)

	if len(r.events) >= r.burst {
		return false
	}
	if r.countRecent(now) >= r.ratePerSecond {
		return false
	}

	r.events = append(r.events, now)
	return true
}

// AcquireBlocking waits until an operation is admitted or ctx ends.
// The limiter delays, it never fails on its own.
func (r *RateLimiter) AcquireBlocking(ctx context.Context) error {
	for {
		if r.TryAcquire() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquirePoll):
		}
	}
}

// countRecent counts events inside the trailing one-second window.
// Events are appended in time order, so the scan walks from the newest
// end and stops at the first old entry. Must be called with mutex held.
func (r *RateLimiter) countRecent(now time.Time) int {
	cutoff := now.Add(-rateWindow)
	recent := 0
	for i := len(r.events) - 1; i >= 0; i-- {
		if !r.events[i].After(cutoff) {
			break
		}
		recent++
	}
	return recent
}

// cleanup drops events older than the retention window.
// Must be called with mutex held.
func (r *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-eventRetention)
	drop := 0
	for drop < len(r.events) && r.events[drop].Before(cutoff) {
		drop++
	}
	if drop > 0 {
		r.events = append(r.events[:0], r.events[drop:]...)
	}
}

// RateLimiterStats is a point-in-time view of limiter pressure.
type RateLimiterStats struct {
	LastSecond int
	LastMinute int
	Limited    bool
}

// Stats returns current usage numbers.
func (r *RateLimiter) Stats() RateLimiterStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.cleanup(now)

	recent := r.countRecent(now)
	return RateLimiterStats{
		LastSecond: recent,
		LastMinute: len(r.events),
		Limited:    recent >= r.ratePerSecond || len(r.events) >= r.burst,
	}
}

// Reset clears all recorded events.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = r.events[:0]
}

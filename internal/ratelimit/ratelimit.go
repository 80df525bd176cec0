// Package ratelimit provides a sliding-window request limiter with
// per-second and per-minute caps, matching typical LLM API quotas.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// pollInterval is how long a blocked caller sleeps before rechecking.
const pollInterval = 100 * time.Millisecond

// Limiter admits requests only while both trailing windows are under
// their caps. A cap of zero or below disables that window.
type Limiter struct {
	mu        sync.Mutex
	perMinute int
	perSecond int
	minute    []time.Time
	second    []time.Time
}

// New creates a limiter with the given per-minute and per-second caps.
func New(perMinute, perSecond int) *Limiter {
	return &Limiter{perMinute: perMinute, perSecond: perSecond}
}

// Acquire blocks until a request is admissible, then records it.
// Returns early with ctx.Err() when the context is canceled.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if l.tryAcquire(time.Now()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// tryAcquire admits and records one request at time now if both windows
// have room. The timestamp append happens under the lock, so concurrent
// wakeups cannot over-admit.
func (l *Limiter) tryAcquire(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.minute = prune(l.minute, now, time.Minute)
	l.second = prune(l.second, now, time.Second)

	if l.perMinute > 0 && len(l.minute) >= l.perMinute {
		return false
	}
	if l.perSecond > 0 && len(l.second) >= l.perSecond {
		return false
	}

	l.minute = append(l.minute, now)
	l.second = append(l.second, now)
	return true
}

// prune drops timestamps strictly older than the window, preserving
// order. An entry exactly one window old still counts, so the closed
// interval [t, t+span] never admits more than the cap.
func prune(window []time.Time, now time.Time, span time.Duration) []time.Time {
	cutoff := now.Add(-span)
	i := 0
	for i < len(window) && window[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return window
	}
	return append(window[:0], window[i:]...)
}

// InFlight returns the current counts in the minute and second windows.
func (l *Limiter) InFlight() (minute, second int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.minute = prune(l.minute, now, time.Minute)
	l.second = prune(l.second, now, time.Second)
	return len(l.minute), len(l.second)
}

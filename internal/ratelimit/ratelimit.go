package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a per-provider sliding-window admission controller. A request
// is granted only while the count of grants within the trailing window is
// below the provider's limit; a request that would exceed it is refused,
// never queued.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	limits map[string]int
	grants map[string][]time.Time
	now    func() time.Time
}

// New creates a limiter with the given trailing window and per-provider
// grant limits. Providers without a configured limit are never refused.
func New(window time.Duration, limits map[string]int) *Limiter {
	l := &Limiter{
		window: window,
		limits: make(map[string]int, len(limits)),
		grants: make(map[string][]time.Time),
		now:    time.Now,
	}
	for k, v := range limits {
		l.limits[k] = v
	}
	return l
}

// TryAcquire reports whether a call to providerID is admitted right now.
// A refusal consumes nothing; callers fall back to stale cache or the next
// provider in the chain.
func (l *Limiter) TryAcquire(providerID string) bool {
	limit, limited := l.limits[providerID]
	if !limited {
		return true
	}

	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.grants[providerID][:0]
	for _, ts := range l.grants[providerID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		l.grants[providerID] = kept
		return false
	}

	l.grants[providerID] = append(kept, now)
	return true
}

// Count returns the number of grants for providerID within the trailing
// window, for observability.
func (l *Limiter) Count(providerID string) int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, ts := range l.grants[providerID] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

package pick

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimiter is a sliding-window log limiter keyed by an arbitrary string.
// Only accepted attempts are recorded.
type RateLimiter struct {
	clock  clockwork.Clock
	limit  int
	window time.Duration

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

// NewRateLimiter allows limit attempts per key in any window-long interval.
func NewRateLimiter(clock clockwork.Clock, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		clock:     clock,
		limit:     limit,
		window:    window,
		hits:      make(map[string][]time.Time),
		lastSweep: clock.Now(),
	}
}

// Allow records an attempt for key and reports whether it is within the limit.
func (l *RateLimiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}

	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := trim(l.hits[key], cutoff)
	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)

	if now.Sub(l.lastSweep) > 10*l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}
	return true
}

func (l *RateLimiter) sweep(cutoff time.Time) {
	for key, hits := range l.hits {
		if recent := trim(hits, cutoff); len(recent) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = recent
		}
	}
}

// trim drops timestamps at or before cutoff. hits is in ascending order.
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

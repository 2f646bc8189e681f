package service

import (
	"sync"
	"time"
)

// Automated alert simulations are capped per actor to keep a misconfigured
// scheduler from flooding the channels. Operator-initiated simulations are
// exempt; the limiter is only consulted on the automation path.
const (
	rateLimitWindow = time.Minute
	rateLimitMax    = 5
)

// RateLimiter is a rolling-window counter keyed by actor.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	now    func() time.Time
	hits   map[string][]time.Time
}

// NewRateLimiter builds the limiter with production settings.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		window: rateLimitWindow,
		limit:  rateLimitMax,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records a hit for the actor and reports whether it fits the window.
// A denied call does not count against the window; on denial the second
// return value says how long until the window frees a slot.
func (l *RateLimiter) Allow(actor string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.hits[actor][:0]
	for _, hit := range l.hits[actor] {
		if hit.After(cutoff) {
			recent = append(recent, hit)
		}
	}

	if len(recent) >= l.limit {
		l.hits[actor] = recent
		oldest := recent[len(recent)-l.limit]
		return false, oldest.Add(l.window).Sub(now)
	}
	l.hits[actor] = append(recent, now)
	return true, 0
}

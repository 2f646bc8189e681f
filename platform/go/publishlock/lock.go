// Package publishlock provides a process-local mutual-exclusion registry that
// serializes publish operations per configuration scope. It is deliberately a
// single-node primitive: a multi-instance deployment must swap in a distributed
// lock behind the same TryAcquire/Release surface.
package publishlock

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTTL bounds how long a crashed holder can block a scope. It is not
// refreshed mid-operation; a critical section outrunning the TTL can allow a
// second acquirer, which is an accepted limitation rather than a bug.
const DefaultTTL = 5 * time.Second

// HeldError reports a failed acquisition together with the current holder and
// how long the caller should wait before retrying.
type HeldError struct {
	Key        string
	Holder     string
	RetryAfter time.Duration
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("publish lock %s held by %s (retry after %s)", e.Key, e.Holder, e.RetryAfter)
}

type entry struct {
	holder    string
	acquired  time.Time
	expiresAt time.Time
}

// Registry is an injectable lock table keyed by scope. The mutex guards only
// the table itself, never a caller's critical section.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// Option customizes a Registry.
type Option func(*Registry)

// WithTTL overrides the default lock TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock overrides the time source; used by tests to simulate expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry builds an empty lock registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		ttl:     DefaultTTL,
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TryAcquire claims the lock for key on behalf of holder. It never blocks:
// when a live entry exists it returns a HeldError carrying the holder identity
// and the remaining TTL.
func (r *Registry) TryAcquire(key, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.entries[key]; ok && now.Before(existing.expiresAt) {
		return &HeldError{
			Key:        key,
			Holder:     existing.holder,
			RetryAfter: existing.expiresAt.Sub(now),
		}
	}

	r.entries[key] = entry{
		holder:    holder,
		acquired:  now,
		expiresAt: now.Add(r.ttl),
	}
	return nil
}

// Release removes the entry for key unconditionally. Safe to call for keys
// that were never acquired or already expired.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// PruneExpired drops entries whose TTL elapsed and returns how many were removed.
func (r *Registry) PruneExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	pruned := 0
	for key, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, key)
			pruned++
		}
	}
	return pruned
}

// TTL reports the configured lock TTL.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

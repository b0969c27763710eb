// Package ratelimit implements per-user token bucket rate limiting for the
// chat gateways. Each employee gets an independent golang.org/x/time/rate
// bucket; idle buckets are evicted lazily on Allow.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a user has exhausted their token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// idleTTL is how long an unused bucket is kept. A bucket idle this long has
// refilled completely, so dropping it loses nothing.
const idleTTL = 10 * time.Minute

// Config configures the token bucket rate limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Maximum tokens in bucket. 0 = defaults to RequestsPerMinute.
}

// Limiter is a per-user token bucket rate limiter.
// One user cannot exhaust another's quota.
type Limiter struct {
	mu        sync.Mutex
	users     map[string]*entry
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
// If RequestsPerMinute is 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		users: make(map[string]*entry),
		limit: rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst: burst,
		now:   time.Now,
	}
}

// Allow consumes one token for userID, or returns ErrRateLimited when the
// bucket is empty.
func (l *Limiter) Allow(userID string) error {
	if l == nil || l.limit <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	e, ok := l.users[userID]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = e
	}
	e.lastSeen = now

	if !e.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// sweep drops idle buckets at most once per idleTTL. Must be called with l.mu held.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < idleTTL {
		return
	}
	l.lastSweep = now
	for id, e := range l.users {
		if now.Sub(e.lastSeen) >= idleTTL {
			delete(l.users, id)
		}
	}
}

// Len returns the number of tracked users.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

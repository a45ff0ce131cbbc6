// Package ratelimit throttles the public endpoints (tracking beacons and
// login-link requests) per client with token buckets.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

// RateLimiter decides whether a request for key may proceed.
type RateLimiter interface {
	// Allow checks if a request from the given key is allowed
	Allow(ctx context.Context, key string) bool

	// AllowN checks if N requests from the given key are allowed
	AllowN(ctx context.Context, key string, n int) bool
}

// InMemoryRateLimiter keeps one token bucket per key in process memory.
// Each server instance limits independently.
type InMemoryRateLimiter struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*entry

	cleanupInterval time.Duration
	maxAge          time.Duration
	now             func() time.Time

	stopOnce    sync.Once
	stopCleanup chan struct{}
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
// rps: sustained requests per second; burst: maximum burst size
func NewInMemoryRateLimiter(rps float64, burst int) *InMemoryRateLimiter {
	l := &InMemoryRateLimiter{
		rate:            rate.Limit(rps),
		burst:           burst,
		limiters:        make(map[string]*entry),
		cleanupInterval: 5 * time.Minute,
		maxAge:          10 * time.Minute,
		now:             time.Now,
		stopCleanup:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// PerMinute converts a per-minute budget to the per-second rate the
// limiter takes.
func PerMinute(n int) float64 {
	return float64(n) / 60
}

// Allow checks if a single request is allowed
func (l *InMemoryRateLimiter) Allow(ctx context.Context, key string) bool {
	return l.AllowN(ctx, key, 1)
}

// AllowN checks if N requests are allowed
func (l *InMemoryRateLimiter) AllowN(_ context.Context, key string, n int) bool {
	now := l.now()
	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastAccess = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, n)
}

func (l *InMemoryRateLimiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.evictIdle(); n > 0 {
				logger.Debug("evicted idle rate limiters", "count", n)
			}
		case <-l.stopCleanup:
			return
		}
	}
}

// evictIdle drops buckets unused for maxAge. An idle bucket is full again,
// so dropping it does not change any decision.
func (l *InMemoryRateLimiter) evictIdle() int {
	cutoff := l.now().Add(-l.maxAge)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, e := range l.limiters {
		if e.lastAccess.Before(cutoff) {
			delete(l.limiters, key)
			n++
		}
	}
	return n
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (l *InMemoryRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

// Stats returns statistics about the rate limiter
func (l *InMemoryRateLimiter) Stats() map[string]interface{} {
	l.mu.Lock()
	count := len(l.limiters)
	l.mu.Unlock()

	return map[string]interface{}{
		"type":            "in-memory",
		"active_limiters": count,
		"rate_per_second": float64(l.rate),
		"burst":           l.burst,
	}
}

// Package ratelimit throttles turn submission per (user, origin) to bound
// cost and abuse of the external LLM capability. Buckets are shared across a
// user's threads on the same channel.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/podoskin/agent-core/pkg/models"
)

// Limiter hands out one token bucket per (user, origin).
type Limiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*rate.Limiter

	perMinute int
	burst     int
}

type bucketKey struct {
	userID string
	origin models.Origin
}

// New creates a limiter allowing perMinute turns with the given burst.
func New(perMinute, burst int) *Limiter {
	return &Limiter{
		buckets:   make(map[bucketKey]*rate.Limiter),
		perMinute: perMinute,
		burst:     burst,
	}
}

// Allow reports whether the user may submit a turn now. Over-limit turns are
// rejected immediately, never queued.
func (l *Limiter) Allow(userID string, origin models.Origin) bool {
	l.mu.Lock()
	key := bucketKey{userID, origin}
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	return bucket.Allow()
}

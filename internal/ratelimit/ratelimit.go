// Package ratelimit throttles post submissions per key, either in process
// memory or in a Redis shared by several servers.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether one more submission for key is allowed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

const pruneThreshold = 1024

// TokenBucket keeps one refilling bucket per key in memory.
type TokenBucket struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	rate     float64
	now      func() time.Time
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewTokenBucket allows burst submissions per interval, refilled continuously.
func NewTokenBucket(burst int, interval time.Duration) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenBucket{
		buckets:  make(map[string]*bucket),
		capacity: float64(burst),
		rate:     float64(burst) / interval.Seconds(),
		now:      time.Now,
	}
}

// Allow consumes a token for key if one is available.
func (tb *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		if len(tb.buckets) >= pruneThreshold {
			tb.prune(now)
		}
		b = &bucket{tokens: tb.capacity, lastCheck: now}
		tb.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens += elapsed * tb.rate
		if b.tokens > tb.capacity {
			b.tokens = tb.capacity
		}
	}
	b.lastCheck = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// prune drops buckets that have refilled completely; they behave exactly like
// a missing bucket. Called with mu held.
func (tb *TokenBucket) prune(now time.Time) {
	for key, b := range tb.buckets {
		if b.tokens+now.Sub(b.lastCheck).Seconds()*tb.rate >= tb.capacity {
			delete(tb.buckets, key)
		}
	}
}

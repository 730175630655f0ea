package ratelimiter

import (
	"sync"
	"time"
)

// RateLimiter is the interface for rate limiting.
// It defines a single method, Allow, which returns true if a request is allowed,
// and false otherwise.
type RateLimiter interface {
	// Allow returns true if the request is allowed, otherwise returns false.
	Allow() bool
}

// Keyed keeps one token bucket per key (typically the client IP) so that a
// single noisy client cannot starve the submission endpoints for everyone.
// Buckets idle for longer than idleTTL are dropped on the next sweep.
type Keyed struct {
	rate     float64
	capacity int
	idleTTL  time.Duration

	mu        sync.Mutex
	buckets   map[string]*keyedBucket
	lastSweep time.Time
	now       func() time.Time
}

type keyedBucket struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// NewKeyed creates a Keyed limiter whose buckets refill at rate tokens per
// second up to capacity.
func NewKeyed(rate float64, capacity int, idleTTL time.Duration) *Keyed {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &Keyed{
		rate:     rate,
		capacity: capacity,
		idleTTL:  idleTTL,
		buckets:  make(map[string]*keyedBucket),
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	now := k.now()
	if now.Sub(k.lastSweep) > k.idleTTL {
		for id, b := range k.buckets {
			if now.Sub(b.lastSeen) > k.idleTTL {
				delete(k.buckets, id)
			}
		}
		k.lastSweep = now
	}
	b, ok := k.buckets[key]
	if !ok {
		b = &keyedBucket{bucket: newTokenBucketAt(k.rate, k.capacity, now, k.now)}
		k.buckets[key] = b
	}
	b.lastSeen = now
	k.mu.Unlock()
	return b.bucket.Allow()
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

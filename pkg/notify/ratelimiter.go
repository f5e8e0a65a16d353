package notify

import (
	"sync"
	"time"
)

// RateLimiter is a per-endpoint token bucket. Each bucket holds up to
// maxTokens and regains one token per refillPeriod.
type RateLimiter struct {
	mutex        sync.Mutex
	buckets      map[string]*tokenBucket
	maxTokens    int
	refillPeriod time.Duration
	now          func() time.Time
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per bucket
func NewRateLimiter(maxRequests int, refillPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:      make(map[string]*tokenBucket),
		maxTokens:    maxRequests,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// Allow takes a token for key if one is available
func (rl *RateLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	b := rl.bucket(key)
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Remaining returns the tokens left for key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return rl.bucket(key).tokens
}

// Reset forgets the bucket for key
func (rl *RateLimiter) Reset(key string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	delete(rl.buckets, key)
}

// bucket returns the refilled bucket for key. Caller holds the lock.
func (rl *RateLimiter) bucket(key string) *tokenBucket {
	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: rl.maxTokens, lastRefill: now}
		rl.buckets[key] = b
		return b
	}
	if elapsed := now.Sub(b.lastRefill); elapsed >= rl.refillPeriod {
		periods := int(elapsed / rl.refillPeriod)
		b.tokens = min(b.tokens+periods, rl.maxTokens)
		b.lastRefill = b.lastRefill.Add(time.Duration(periods) * rl.refillPeriod)
	}
	return b
}

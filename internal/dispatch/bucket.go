package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/KTo1/ai-friend-sub000/internal/metrics"
)

// TokenBucket is the process-wide outbound send budget. All sends across
// all conversations draw from the same bucket, so one refill rate caps
// total platform traffic.
type TokenBucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64
	tokens   float64
	last     time.Time

	now func() time.Time
}

func NewTokenBucket(capacity, refillPerSecond float64) *TokenBucket {
	return &TokenBucket{
		capacity: capacity,
		rate:     refillPerSecond,
		tokens:   capacity,
		last:     time.Now(),
		now:      time.Now,
	}
}

// refill advances the bucket to now. Caller holds mu.
func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
}

// Acquire takes one token, blocking when the bucket is dry. The mutex is
// held for the whole call, including the sleep, so concurrent senders
// queue behind each other instead of all waking at once. When the bucket
// is dry it sleeps just long enough for one token to accumulate, then
// checks once more.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.now()
	b.refill(start)
	if b.tokens >= 1 {
		b.tokens--
		metrics.TokenBucketWaitSeconds.Observe(0)
		return nil
	}

	wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	now := b.now()
	b.refill(now)
	b.tokens--
	if b.tokens < 0 {
		b.tokens = 0
	}
	metrics.TokenBucketWaitSeconds.Observe(now.Sub(start).Seconds())
	return nil
}

// Tokens reports the current level after a refill, for introspection.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.now())
	return b.tokens
}

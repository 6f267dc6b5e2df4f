package oracle

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a small injected rate limiter: capacity tokens, refilled at
// a fixed per-minute rate. Wait blocks until a token is available or the
// context ends.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
}

// NewTokenBucket allows ratePerMinute calls sustained, with bursts up to the
// same size.
func NewTokenBucket(ratePerMinute int) *TokenBucket {
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	cap := float64(ratePerMinute)
	return &TokenBucket{
		tokens:   cap,
		capacity: cap,
		perSec:   cap / 60,
		last:     time.Now(),
	}
}

func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		b.tokens += now.Sub(b.last).Seconds() * b.perSec
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - b.tokens) / b.perSec * float64(time.Second))
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

package restclient

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled once per interval.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   int
	capacity int
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewRateLimiter allows `requests` calls per `interval`. A non-positive
// request count disables limiting.
func NewRateLimiter(requests int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:   requests,
		capacity: requests,
		interval: interval,
		last:     time.Now(),
		now:      time.Now,
	}
}

// PerMinute builds a limiter from a vendor "requests per minute" budget.
func PerMinute(requests int) *RateLimiter {
	return NewRateLimiter(requests, time.Minute)
}

func (rl *RateLimiter) refill() {
	now := rl.now()
	if elapsed := now.Sub(rl.last); elapsed >= rl.interval {
		rl.tokens = rl.capacity
		rl.last = now
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.capacity <= 0 {
		return nil
	}

	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens > 0 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := rl.interval - rl.now().Sub(rl.last)
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

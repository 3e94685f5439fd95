package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const initialBackoff = 100 * time.Millisecond

// Limiter wraps rate.Limiter with a 429-driven backoff
type Limiter struct {
	limiter *rate.Limiter
	name    string

	mu        sync.Mutex
	backoff   time.Duration
	maxWait   time.Duration
	throttled bool // set by SignalRateLimited, cleared by ResetBackoff
}

// NewLimiter creates a new rate limiter.
// perMinute specifies the number of requests allowed per minute.
func NewLimiter(name string, perMinute int) *Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	rps := float64(perMinute) / 60.0
	// Burst of 1/10th of the per-minute limit, clamped to [1, 5]
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	if burst > 5 {
		burst = 5
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
		backoff: initialBackoff,
		maxWait: 2 * time.Minute,
	}
}

// Wait blocks until a token is available or ctx is done.
// After a 429 the current backoff is served first.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	pause := time.Duration(0)
	if l.throttled {
		pause = l.backoff
	}
	l.mu.Unlock()

	if pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether an event may happen now
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// SignalRateLimited should be called when a 429 response is received.
// It doubles the backoff up to maxWait.
func (l *Limiter) SignalRateLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.throttled {
		l.backoff *= 2
	}
	l.throttled = true
	if l.backoff > l.maxWait {
		l.backoff = l.maxWait
	}
}

// ResetBackoff resets the backoff after a successful request
func (l *Limiter) ResetBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff = initialBackoff
	l.throttled = false
}

// GetBackoff returns the backoff Wait would currently apply
func (l *Limiter) GetBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.throttled {
		return 0
	}
	return l.backoff
}

// Name returns the limiter name
func (l *Limiter) Name() string {
	return l.name
}

package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"screener/pkg/model"
)

// BreakerProvider fails fast while the upstream keeps failing. Only transient
// errors count; unknown or delisted symbols do not trip it.
type BreakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerProvider opens after trips consecutive transient failures and
// probes again after cooldown
func NewBreakerProvider(inner Provider, trips uint32, cooldown time.Duration) *BreakerProvider {
	st := gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return !IsRetryable(err)
		},
	}
	return &BreakerProvider{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

func (p *BreakerProvider) Name() string   { return p.inner.Name() }
func (p *BreakerProvider) RateLimit() int { return p.inner.RateLimit() }

// State exposes the breaker state for status reporting
func (p *BreakerProvider) State() gobreaker.State {
	return p.cb.State()
}

func (p *BreakerProvider) GetDailyBars(ctx context.Context, symbol string, days int) ([]model.Bar, error) {
	out, err := p.cb.Execute(func() (interface{}, error) {
		return p.inner.GetDailyBars(ctx, symbol, days)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ProviderError{Provider: p.Name(), Err: err, Retryable: true}
		}
		return nil, err
	}
	return out.([]model.Bar), nil
}

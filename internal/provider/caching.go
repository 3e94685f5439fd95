package provider

import (
	"context"
	"fmt"

	"screener/internal/cache"
	"screener/pkg/model"
)

// CachingProvider wraps a Provider with a short-lived bar cache keyed by
// symbol and lookback
type CachingProvider struct {
	inner Provider
	store cache.BarStore
	stats func(hit bool)
}

// NewCachingProvider creates a caching wrapper
func NewCachingProvider(inner Provider, store cache.BarStore) *CachingProvider {
	return &CachingProvider{inner: inner, store: store}
}

// OnLookup registers a hit/miss observer
func (p *CachingProvider) OnLookup(fn func(hit bool)) {
	p.stats = fn
}

func (p *CachingProvider) Name() string   { return p.inner.Name() }
func (p *CachingProvider) RateLimit() int { return p.inner.RateLimit() }

// CacheKey is the cache key for a symbol and lookback pair
func CacheKey(symbol string, days int) string {
	return fmt.Sprintf("%s|%d", symbol, days)
}

func (p *CachingProvider) GetDailyBars(ctx context.Context, symbol string, days int) ([]model.Bar, error) {
	bars, hit, err := p.store.GetOrLoad(ctx, CacheKey(symbol, days), func(ctx context.Context) ([]model.Bar, error) {
		return p.inner.GetDailyBars(ctx, symbol, days)
	})
	if err != nil {
		return nil, err
	}
	if p.stats != nil {
		p.stats(hit)
	}
	// callers get their own copy
	out := make([]model.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

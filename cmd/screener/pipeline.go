package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"screener/internal/cache"
	"screener/internal/config"
	"screener/internal/engine"
	"screener/internal/fetcher"
	"screener/internal/logger"
	"screener/internal/provider"
	"screener/internal/scanner"
	"screener/internal/symbols"
	"screener/pkg/model"
)

// pipeline is everything one process needs to run scans
type pipeline struct {
	scanner  *scanner.Scanner
	runCfg   scanner.RunConfig
	registry *prometheus.Registry
	closers  []func() error
}

func (p *pipeline) Close() {
	for _, c := range p.closers {
		_ = c()
	}
}

// buildPipeline wires provider -> breaker -> cache -> fetcher -> scanner
func buildPipeline(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pipeline, error) {
	policy, err := buildPolicy(cfg.Grading)
	if err != nil {
		return nil, err
	}
	sortKey, err := model.ParseSortKey(cfg.Scanner.SortBy)
	if err != nil {
		return nil, err
	}

	p := &pipeline{registry: prometheus.NewRegistry()}
	metrics := scanner.NewMetrics(p.registry)

	var prov provider.Provider = provider.NewYahooProvider(cfg.Provider.BaseURL, cfg.Provider.RateLimit, cfg.Provider.Timeout)
	if cfg.Provider.BreakerTrips > 0 {
		prov = provider.NewBreakerProvider(prov, cfg.Provider.BreakerTrips, cfg.Provider.BreakerCool)
	}

	store, closeStore, err := buildStore(ctx, cfg.Cache, log)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		p.closers = append(p.closers, closeStore)
	}
	if store != nil {
		caching := provider.NewCachingProvider(prov, store)
		caching.OnLookup(metrics.ObserveCache)
		prov = caching
	}

	f := fetcher.New(prov, cfg.Provider.ExchangeSuffix, cfg.Scanner.SymbolTimeout)
	p.scanner = scanner.NewScanner(f, cfg.Scanner.Workers, cfg.Scanner.Timeout, log)
	p.scanner.SetMetrics(metrics)
	p.scanner.SetRequestRate(cfg.Provider.RateLimit)

	p.runCfg = scanner.RunConfig{
		Lookback: cfg.Scanner.Lookback,
		Metrics: engine.Options{
			ATRWindow:    cfg.Scanner.ATRWindow,
			VolumeWindow: cfg.Scanner.VolumeWindow,
			Policy:       policy,
		},
		SortBy: sortKey,
	}

	log.WithFields(map[string]interface{}{
		"provider": prov.Name(),
		"cache":    cfg.Cache.Backend,
		"policy":   policy.Name,
		"workers":  cfg.Scanner.Workers,
		"lookback": cfg.Scanner.Lookback,
	}).Debug("pipeline ready")

	return p, nil
}

func buildStore(ctx context.Context, cfg config.CacheConfig, log *logger.Logger) (cache.BarStore, func() error, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil, nil
	case "memory":
		return cache.NewMemoryStore(cfg.TTL, cache.SystemClock{}), nil, nil
	case "redis":
		rs, err := cache.DialRedis(ctx, cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis cache: %w", err)
		}
		log.Infof("using redis bar cache at %s", cfg.RedisURL)
		return rs, rs.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// buildPolicy resolves the named policy; overrides replace all of its
// thresholds and rename it "custom"
func buildPolicy(cfg config.GradingConfig) (engine.GradingPolicy, error) {
	p, err := engine.LookupPolicy(cfg.Policy)
	if err != nil {
		return engine.GradingPolicy{}, err
	}
	if o := cfg.Overrides; o != nil {
		p = engine.GradingPolicy{
			Name:         "custom",
			AChange:      o.AChange,
			AVol:         o.AVol,
			AVolumeRatio: o.AVolumeRatio,
			BChange:      o.BChange,
			BVol:         o.BVol,
		}
	}
	return p, p.Validate()
}

// resolveUniverse picks tickers from --symbols, then --file, then the named universe
func resolveUniverse(symbolList, file, name string) ([]string, error) {
	switch {
	case symbolList != "":
		return symbols.ParseList(symbolList), nil
	case file != "":
		return symbols.LoadFile(file)
	}
	u := symbols.GetUniverse(symbols.Universe(name))
	if u == nil {
		names := make([]string, 0)
		for _, n := range symbols.Universes() {
			names = append(names, string(n))
		}
		return nil, fmt.Errorf("unknown universe: %s (available: %s)", name, strings.Join(names, ", "))
	}
	return u, nil
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"screener/pkg/model"
)

// BarStore caches bar sequences by key
type BarStore interface {
	GetOrLoad(ctx context.Context, key string, load Loader[[]model.Bar]) ([]model.Bar, bool, error)
}

// NewMemoryStore returns an in-process bar cache
func NewMemoryStore(ttl time.Duration, clock Clock) *TTLCache[[]model.Bar] {
	return NewTTLCache[[]model.Bar](ttl, clock)
}

const redisKeyPrefix = "screener:bars:"

// RedisStore shares cached bars between processes; expiry is Redis' own TTL
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	locks  *keyLocks
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, locks: newKeyLocks()}
}

// DialRedis parses a redis:// URL and pings the server
func DialRedis(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) get(ctx context.Context, key string) ([]model.Bar, bool, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var bars []model.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, false, fmt.Errorf("decoding cached bars for %s: %w", key, err)
	}
	return bars, true, nil
}

// GetOrLoad returns cached bars or loads and stores them. A broken Redis
// degrades to loading directly rather than failing the symbol.
func (s *RedisStore) GetOrLoad(ctx context.Context, key string, load Loader[[]model.Bar]) ([]model.Bar, bool, error) {
	if bars, ok, err := s.get(ctx, key); err == nil && ok {
		return bars, true, nil
	}

	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	if bars, ok, err := s.get(ctx, key); err == nil && ok {
		return bars, true, nil
	}

	bars, err := load(ctx)
	if err != nil {
		return nil, false, err
	}

	if data, err := json.Marshal(bars); err == nil {
		// best effort
		_ = s.client.Set(ctx, redisKeyPrefix+key, string(data), s.ttl).Err()
	}
	return bars, false, nil
}

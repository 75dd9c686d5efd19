package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultCacheTTL bounds how stale a cached analytics result may be.
const DefaultCacheTTL = 5 * time.Minute

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores serialized analytics results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return val, err
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func cacheKey(kind, userID, metric string, days int) string {
	return fmt.Sprintf("analytics:%s:%s:%s:%d", kind, userID, metric, days)
}

// cached serves key from the service cache or computes and stores it. Cache
// failures are logged and fall through to compute.
func cached[T any](ctx context.Context, s *Service, key string, compute func() (T, error)) (T, error) {
	var out T
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			if jerr := json.Unmarshal(raw, &out); jerr == nil {
				return out, nil
			}
		case !errors.Is(err, ErrCacheMiss):
			s.logger.Warn().Err(err).Str("key", key).Msg("analytics cache read failed")
		}
	}

	out, err := compute()
	if err != nil || s.cache == nil {
		return out, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return out, nil
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("analytics cache write failed")
	}
	return out, nil
}

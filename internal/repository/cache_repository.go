package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
)

const scanBatch = 100

// CacheRepository stores JSON-encoded payloads in Redis. Every key is namespaced by prefix.
type CacheRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository. A nil client turns every call into a miss or no-op.
func NewCacheRepository(client *redis.Client, prefix string, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, prefix: prefix, logger: logger}
}

func (r *CacheRepository) key(k string) string {
	return r.prefix + k
}

// Get retrieves and unmarshals the cached value into dest.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		// A payload from an older layout is treated as a miss and overwritten.
		r.logger.Debug("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return appErrors.ErrCacheMiss
	}
	return nil
}

// Set marshals value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// DeleteByPattern removes cached entries matching pattern and reports how many were dropped.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if r.client == nil {
		return 0, nil
	}

	var (
		deleted int
		keys    []string
	)
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("redis delete %d keys: %w", len(keys), err)
		}
		deleted += int(n)
		keys = keys[:0]
		return nil
	}

	iter := r.client.Scan(ctx, 0, r.key(pattern), scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= scanBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Ping reports whether Redis is reachable. A disabled cache is always healthy.
func (r *CacheRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

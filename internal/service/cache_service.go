package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
	"github.com/noah-isme/pesantren-billing-api/pkg/jobs"
)

// DashboardCachePattern matches every cached dashboard summary.
const DashboardCachePattern = "dash:billing:*"

const invalidateJobType = "cache.invalidate"

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
}

// CacheService orchestrates cache operations and related metrics.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
	generation atomic.Uint64
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Generation changes every time an invalidation is requested. Readers compare it before and
// after computing a value so a result built from pre-write data is never stored.
func (s *CacheService) Generation() uint64 {
	if s == nil {
		return 0
	}
	return s.generation.Load()
}

func (s *CacheService) markStale() {
	if s != nil {
		s.generation.Add(1)
	}
}

// Invalidate removes cached values for the provided pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	s.markStale()
	deleted, err := s.repo.DeleteByPattern(ctx, pattern)
	if err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	s.logger.Debug("cache invalidated", zap.String("pattern", pattern), zap.Int("keys", deleted))
	return nil
}

// CacheInvalidator evicts cache patterns on a background queue so writers never wait on Redis.
type CacheInvalidator struct {
	cache   *CacheService
	queue   *jobs.Queue
	logger  *zap.Logger
	timeout time.Duration
}

// NewCacheInvalidator builds an invalidator whose queue retries failed evictions.
func NewCacheInvalidator(cache *CacheService, cfg jobs.QueueConfig) *CacheInvalidator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	inv := &CacheInvalidator{cache: cache, logger: cfg.Logger, timeout: 5 * time.Second}
	inv.queue = jobs.NewQueue("cache-invalidation", inv.handle, cfg)
	return inv
}

// Start launches the queue workers.
func (i *CacheInvalidator) Start(ctx context.Context) {
	if i == nil {
		return
	}
	i.queue.Start(ctx)
}

// Stop drains the workers.
func (i *CacheInvalidator) Stop() {
	if i == nil {
		return
	}
	i.queue.Stop()
}

// Invalidate schedules eviction of pattern. When the queue cannot take the job the
// eviction runs inline with a short timeout.
func (i *CacheInvalidator) Invalidate(pattern string) {
	if i == nil || !i.cache.Enabled() {
		return
	}
	i.cache.markStale()
	err := i.queue.TryEnqueue(jobs.Job{Type: invalidateJobType, Payload: pattern})
	if err == nil {
		return
	}
	i.logger.Warn("cache invalidation not queued, evicting inline", zap.String("pattern", pattern), zap.Error(err))
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()
	_ = i.cache.Invalidate(ctx, pattern)
}

func (i *CacheInvalidator) handle(ctx context.Context, job jobs.Job) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	return i.cache.Invalidate(ctx, job.Payload)
}

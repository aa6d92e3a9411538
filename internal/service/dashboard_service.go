package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/pesantren-billing-api/internal/dto"
	"github.com/noah-isme/pesantren-billing-api/internal/models"
	"github.com/noah-isme/pesantren-billing-api/internal/repository"
	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
)

type dashboardRepository interface {
	CountStudents(ctx context.Context) (int, error)
	PeriodTotals(ctx context.Context, batchID string) (*repository.PeriodTotals, error)
	OutstandingAllTime(ctx context.Context) (int64, error)
}

type batchPeriodFinder interface {
	FindByPeriod(ctx context.Context, month, year int) (*models.BillingBatch, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
}

// DashboardService composes the admin billing dashboard.
type DashboardService struct {
	repo    dashboardRepository
	batches batchPeriodFinder
	cache   *CacheService
	logger  *zap.Logger
	now     func() time.Time
	cfg     DashboardServiceConfig
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Repo    dashboardRepository
	Batches batchPeriodFinder
	Cache   *CacheService
	Logger  *zap.Logger
	Config  DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		repo:    params.Repo,
		batches: params.Batches,
		cache:   params.Cache,
		logger:  logger,
		now:     time.Now,
		cfg:     cfg,
	}
}

// Summary returns the dashboard for (month, year), defaulting to the current month. The second
// return value reports a cache hit.
func (s *DashboardService) Summary(ctx context.Context, month, year int) (*dto.DashboardSummary, bool, error) {
	now := s.now()
	if month == 0 {
		month = int(now.Month())
	}
	if year == 0 {
		year = now.Year()
	}
	if month < 1 || month > 12 {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "month must be between 1 and 12")
	}
	if year < 1 {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "year must be positive")
	}

	cacheKey := fmt.Sprintf("dash:billing:%d:%d", year, month)
	generation := s.cache.Generation()
	if summary, hit := s.tryCache(ctx, cacheKey); hit {
		return summary, true, nil
	}

	summary, err := s.compose(ctx, month, year)
	if err != nil {
		return nil, false, err
	}
	s.persistCache(ctx, cacheKey, summary, generation)
	return summary, false, nil
}

func (s *DashboardService) compose(ctx context.Context, month, year int) (*dto.DashboardSummary, error) {
	students, err := s.repo.CountStudents(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count students")
	}
	outstanding, err := s.repo.OutstandingAllTime(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute outstanding balance")
	}

	summary := &dto.DashboardSummary{
		TotalStudents:           students,
		Period:                  dto.PeriodSummary{Month: month, Year: year},
		TotalOutstandingAllTime: outstanding,
	}

	batch, err := s.batches.FindByPeriod(ctx, month, year)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return summary, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load billing batch")
	}

	totals, err := s.repo.PeriodTotals(ctx, batch.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate period")
	}
	summary.Period.BatchExists = true
	summary.Period.TotalBilled = totals.TotalBilled
	summary.Period.TotalPaid = totals.TotalPaid
	summary.Period.Outstanding = totals.TotalBilled - totals.TotalPaid
	summary.Period.StatusCounts = dto.StatusCounts{Lunas: totals.Paid, Cicilan: totals.Installment, BelumLunas: totals.Unpaid}
	summary.Period.CollectionRate = collectionRate(totals.TotalPaid, totals.TotalBilled)
	return summary, nil
}

// collectionRate is paid over billed as a percentage with two decimals.
func collectionRate(paid, billed int64) float64 {
	if billed <= 0 {
		return 0
	}
	return math.Round(float64(paid)/float64(billed)*10000) / 100
}

// tryCache treats cache errors as misses; the dashboard stays available without Redis.
func (s *DashboardService) tryCache(ctx context.Context, key string) (*dto.DashboardSummary, bool) {
	if s.cache == nil {
		return nil, false
	}
	var cached dto.DashboardSummary
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil || !hit {
		return nil, false
	}
	return &cached, true
}

// persistCache stores value only while no invalidation happened since generation was read.
// A write racing with an invalidation is evicted again right after the set.
func (s *DashboardService) persistCache(ctx context.Context, key string, value interface{}, generation uint64) {
	if s.cache == nil {
		return
	}
	if s.cache.Generation() != generation {
		s.logger.Debug("dashboard cache write skipped after invalidation", zap.String("key", key))
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("dashboard cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	if s.cache.Generation() != generation {
		_ = s.cache.Invalidate(ctx, key)
	}
}

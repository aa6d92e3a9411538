package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/pesantren-billing-api/internal/dto"
	"github.com/noah-isme/pesantren-billing-api/internal/models"
	"github.com/noah-isme/pesantren-billing-api/internal/repository"
	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
)

type billingRepository interface {
	List(ctx context.Context, year int) ([]models.BillingBatch, error)
	FindByID(ctx context.Context, id string) (*models.BillingBatch, error)
	FindByPeriod(ctx context.Context, month, year int) (*models.BillingBatch, error)
	Create(ctx context.Context, batch *models.BillingBatch) error
}

type batchReconciler interface {
	ReconcileBatch(ctx context.Context, batch *models.BillingBatch, trigger string) (int, int, error)
}

type cacheInvalidator interface {
	Invalidate(pattern string)
}

// CreateBatchRequest holds the fee definition for one month.
type CreateBatchRequest struct {
	Month       int        `json:"month" validate:"min=1,max=12"`
	Year        int        `json:"year" validate:"gt=0"`
	SPP         dto.Amount `json:"spp"`
	Kebersihan  dto.Amount `json:"kebersihan"`
	Konsumsi    dto.Amount `json:"konsumsi"`
	Pembangunan dto.Amount `json:"pembangunan"`
}

// BillingService manages billing batches and triggers their fan-out.
type BillingService struct {
	repo        billingRepository
	reconciler  batchReconciler
	invalidator cacheInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewBillingService constructs a BillingService.
func NewBillingService(repo billingRepository, reconciler batchReconciler, invalidator cacheInvalidator, validate *validator.Validate, logger *zap.Logger) *BillingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingService{repo: repo, reconciler: reconciler, invalidator: invalidator, validator: validate, logger: logger}
}

// List returns batches for year, or every batch when year is 0.
func (s *BillingService) List(ctx context.Context, year int) ([]models.BillingBatch, error) {
	if year < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "year must be positive")
	}
	batches, err := s.repo.List(ctx, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list billing batches")
	}
	return batches, nil
}

// Get returns a batch by ID.
func (s *BillingService) Get(ctx context.Context, id string) (*models.BillingBatch, error) {
	batch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "billing batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load billing batch")
	}
	return batch, nil
}

// Create stores a batch for (month, year) and fans it out to every current student.
// When the fan-out fails the batch stays stored and FANOUT_FAILED is returned.
func (s *BillingService) Create(ctx context.Context, req CreateBatchRequest) (*dto.CreateBatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid billing batch payload")
	}
	fees := models.FeeComponents{
		SPP:         req.SPP.Int64(),
		Kebersihan:  req.Kebersihan.Int64(),
		Konsumsi:    req.Konsumsi.Int64(),
		Pembangunan: req.Pembangunan.Int64(),
	}
	if fees.SPP < 0 || fees.Kebersihan < 0 || fees.Konsumsi < 0 || fees.Pembangunan < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "fee components must not be negative")
	}
	if fees.SPP > models.MaxFeeComponent || fees.Kebersihan > models.MaxFeeComponent ||
		fees.Konsumsi > models.MaxFeeComponent || fees.Pembangunan > models.MaxFeeComponent {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("fee components must not exceed %d", models.MaxFeeComponent))
	}

	if _, err := s.repo.FindByPeriod(ctx, req.Month, req.Year); err == nil {
		return nil, duplicateBatchError(req.Month, req.Year)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check billing period")
	}

	batch := &models.BillingBatch{Month: req.Month, Year: req.Year, FeeComponents: fees, Total: fees.Sum()}
	if err := s.repo.Create(ctx, batch); err != nil {
		if errors.Is(err, repository.ErrDuplicateBatch) {
			return nil, duplicateBatchError(req.Month, req.Year)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create billing batch")
	}
	s.invalidate()

	return s.fanOut(ctx, batch, TriggerBatchCreated)
}

// RetryFanOut re-runs the fan-out of an existing batch, creating only missing obligations.
func (s *BillingService) RetryFanOut(ctx context.Context, id string) (*dto.CreateBatchResult, error) {
	batch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.fanOut(ctx, batch, TriggerManualRetry)
}

func (s *BillingService) fanOut(ctx context.Context, batch *models.BillingBatch, trigger string) (*dto.CreateBatchResult, error) {
	students, created, err := s.reconciler.ReconcileBatch(ctx, batch, trigger)
	if created > 0 {
		s.invalidate()
	}
	if err != nil {
		s.logger.Error("billing fan-out failed",
			zap.String("batch_id", batch.ID),
			zap.Int("created", created),
			zap.Error(err),
		)
		msg := fmt.Sprintf("billing batch %s is saved but obligations were not fully generated; retry via POST /billing/batch/%s/fan-out", batch.ID, batch.ID)
		return nil, appErrors.Wrap(err, appErrors.ErrFanOutFailed.Code, appErrors.ErrFanOutFailed.Status, msg)
	}
	return &dto.CreateBatchResult{Batch: *batch, StudentCount: students, ObligationsCreated: created}, nil
}

func (s *BillingService) invalidate() {
	if s.invalidator != nil {
		s.invalidator.Invalidate(DashboardCachePattern)
	}
}

func duplicateBatchError(month, year int) *appErrors.Error {
	return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("billing batch for %02d/%d already exists", month, year))
}

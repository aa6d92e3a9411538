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

const (
	defaultPaymentPageSize = 50
	maxPaymentPageSize     = 200
)

type paymentRepository interface {
	FindByID(ctx context.Context, id string) (*models.PaymentObligation, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, int, error)
	ListStatement(ctx context.Context, studentID string) ([]models.StatementLine, error)
	FindEntryByKey(ctx context.Context, key string) (*models.PaymentEntry, error)
	ApplyPayment(ctx context.Context, expectedPaid int64, entry *models.PaymentEntry) (*models.PaymentObligation, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// RecordPaymentRequest is one installment against an obligation.
type RecordPaymentRequest struct {
	ObligationID   string `json:"obligationId" validate:"required"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey" validate:"omitempty,max=128"`
}

// PaymentResult is the obligation after a payment. Replayed is set when the idempotency key had
// already been applied and nothing changed.
type PaymentResult struct {
	Obligation *models.PaymentObligation
	Replayed   bool
}

// PaymentService is the payment ledger: it accumulates installments without ever exceeding the
// obligation total.
type PaymentService struct {
	repo        paymentRepository
	students    studentReader
	invalidator cacheInvalidator
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	maxRetries  int
}

// PaymentServiceParams groups constructor dependencies.
type PaymentServiceParams struct {
	Repo        paymentRepository
	Students    studentReader
	Invalidator cacheInvalidator
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	MaxRetries  int
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(params PaymentServiceParams) *PaymentService {
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := params.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &PaymentService{
		repo:        params.Repo,
		students:    params.Students,
		invalidator: params.Invalidator,
		metrics:     params.Metrics,
		validator:   validate,
		logger:      logger,
		maxRetries:  retries,
	}
}

// Record applies req.Amount to the obligation. The write is conditional on the paid amount read
// just before it; a lost race re-reads and tries again up to maxRetries times.
func (s *PaymentService) Record(ctx context.Context, req RecordPaymentRequest, actorID string) (*PaymentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if req.Amount <= 0 {
		s.metrics.RecordPayment(PaymentResultInvalid, req.Amount)
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, "")
	}

	if req.IdempotencyKey != "" {
		if result, err := s.replay(ctx, req); err != nil || result != nil {
			return result, err
		}
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		obligation, err := s.load(ctx, req.ObligationID)
		if err != nil {
			return nil, err
		}
		remaining := obligation.Total - obligation.Paid
		if req.Amount > remaining {
			s.metrics.RecordPayment(PaymentResultOverpayment, req.Amount)
			return nil, appErrors.Clone(appErrors.ErrOverpayment, fmt.Sprintf("payment of %d exceeds the remaining amount; remaining payable is %d", req.Amount, remaining))
		}

		entry := &models.PaymentEntry{ObligationID: obligation.ID, Amount: req.Amount}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			entry.IdempotencyKey = &key
		}
		if actorID != "" {
			actor := actorID
			entry.RecordedBy = &actor
		}

		updated, err := s.repo.ApplyPayment(ctx, obligation.Paid, entry)
		switch {
		case err == nil:
			updated.Derive()
			s.metrics.RecordPayment(PaymentResultAccepted, req.Amount)
			if s.invalidator != nil {
				s.invalidator.Invalidate(DashboardCachePattern)
			}
			s.logger.Info("payment recorded",
				zap.String("obligation_id", updated.ID),
				zap.Int64("amount", req.Amount),
				zap.Int64("paid", updated.Paid),
				zap.String("status", string(updated.Status)),
			)
			return &PaymentResult{Obligation: updated}, nil
		case errors.Is(err, repository.ErrStaleObligation):
			s.metrics.RecordPaymentRetry()
			s.logger.Debug("payment lost a concurrent update, retrying", zap.String("obligation_id", obligation.ID), zap.Int("attempt", attempt))
			continue
		case errors.Is(err, repository.ErrDuplicateEntry):
			result, rerr := s.replay(ctx, req)
			if rerr != nil {
				return nil, rerr
			}
			if result != nil {
				return result, nil
			}
			return nil, appErrors.Clone(appErrors.ErrConflict, "idempotency key already used")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
		}
	}

	s.metrics.RecordPayment(PaymentResultConflict, req.Amount)
	return nil, appErrors.Clone(appErrors.ErrConflict, "payment obligation is being updated concurrently, please retry")
}

// replay returns the current obligation when the idempotency key was already applied, or nil
// when the key is unused.
func (s *PaymentService) replay(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error) {
	entry, err := s.repo.FindEntryByKey(ctx, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check idempotency key")
	}
	if entry.ObligationID != req.ObligationID || entry.Amount != req.Amount {
		return nil, appErrors.Clone(appErrors.ErrConflict, "idempotency key already used for a different payment")
	}
	obligation, err := s.load(ctx, entry.ObligationID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPayment(PaymentResultReplayed, req.Amount)
	return &PaymentResult{Obligation: obligation, Replayed: true}, nil
}

func (s *PaymentService) load(ctx context.Context, id string) (*models.PaymentObligation, error) {
	obligation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment obligation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment obligation")
	}
	obligation.Derive()
	return obligation, nil
}

// List returns joined obligations with pagination metadata.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, *models.Pagination, error) {
	if filter.Month < 0 || filter.Month > 12 {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "month must be between 1 and 12")
	}
	if filter.Year < 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "year must be positive")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultPaymentPageSize
	}
	if filter.PageSize > maxPaymentPageSize {
		filter.PageSize = maxPaymentPageSize
	}

	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	for i := range records {
		records[i].Derive()
	}
	return records, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Statement returns the student and every obligation they hold, newest period first.
func (s *PaymentService) Statement(ctx context.Context, studentID string) (*dto.StudentStatement, error) {
	student, err := s.student(ctx, studentID)
	if err != nil {
		return nil, err
	}
	lines, err := s.lines(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return &dto.StudentStatement{Student: *student, Payments: lines}, nil
}

// StudentObligations returns only the statement lines of a student.
func (s *PaymentService) StudentObligations(ctx context.Context, studentID string) ([]models.StatementLine, error) {
	if _, err := s.student(ctx, studentID); err != nil {
		return nil, err
	}
	return s.lines(ctx, studentID)
}

func (s *PaymentService) student(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func (s *PaymentService) lines(ctx context.Context, studentID string) ([]models.StatementLine, error) {
	lines, err := s.repo.ListStatement(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load statement")
	}
	for i := range lines {
		lines[i].Derive()
	}
	return lines, nil
}

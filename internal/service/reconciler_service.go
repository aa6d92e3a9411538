package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
)

// Reconciliation triggers, also used as metric labels.
const (
	TriggerBatchCreated   = "batch_created"
	TriggerStudentCreated = "student_created"
	TriggerManualRetry    = "manual_retry"
)

const reconcileChunkSize = 500

type rosterRepository interface {
	ListIDs(ctx context.Context) ([]string, error)
}

type batchLister interface {
	List(ctx context.Context, year int) ([]models.BillingBatch, error)
}

type obligationWriter interface {
	CreateMissing(ctx context.Context, obligations []models.PaymentObligation) (int, error)
}

// ReconcilerService makes sure every (student, batch) pair in scope has exactly one obligation.
// Both the batch trigger and the student trigger run through reconcile, and re-running either
// only fills in missing pairs.
type ReconcilerService struct {
	students    rosterRepository
	batches     batchLister
	obligations obligationWriter
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewReconcilerService constructs a ReconcilerService.
func NewReconcilerService(students rosterRepository, batches batchLister, obligations obligationWriter, metrics *MetricsService, logger *zap.Logger) *ReconcilerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcilerService{students: students, batches: batches, obligations: obligations, metrics: metrics, logger: logger}
}

// ReconcileBatch fans batch out over a snapshot of the current roster. It returns the roster
// size and how many obligations were newly created.
func (s *ReconcilerService) ReconcileBatch(ctx context.Context, batch *models.BillingBatch, trigger string) (int, int, error) {
	ids, err := s.students.ListIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load roster: %w", err)
	}
	created, err := s.reconcile(ctx, ids, []models.BillingBatch{*batch}, trigger)
	if err != nil {
		return len(ids), created, err
	}
	s.logger.Info("batch reconciled",
		zap.String("batch_id", batch.ID),
		zap.String("trigger", trigger),
		zap.Int("students", len(ids)),
		zap.Int("created", created),
	)
	return len(ids), created, nil
}

// ReconcileStudent bills student for every batch of their enrollment year.
func (s *ReconcilerService) ReconcileStudent(ctx context.Context, student *models.Student) (int, error) {
	if student.EnrollmentYear <= 0 {
		return 0, nil
	}
	batches, err := s.batches.List(ctx, student.EnrollmentYear)
	if err != nil {
		return 0, fmt.Errorf("load batches for %d: %w", student.EnrollmentYear, err)
	}
	created, err := s.reconcile(ctx, []string{student.ID}, batches, TriggerStudentCreated)
	if err != nil {
		return created, err
	}
	if created > 0 {
		s.logger.Info("student reconciled", zap.String("student_id", student.ID), zap.Int("created", created))
	}
	return created, nil
}

// reconcile inserts the missing obligations of the studentIDs x batches product in chunks.
// Each chunk commits on its own; a retry picks up where a failed run stopped.
func (s *ReconcilerService) reconcile(ctx context.Context, studentIDs []string, batches []models.BillingBatch, trigger string) (int, error) {
	if len(studentIDs) == 0 || len(batches) == 0 {
		return 0, nil
	}
	var created int
	chunk := make([]models.PaymentObligation, 0, reconcileChunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		n, err := s.obligations.CreateMissing(ctx, chunk)
		created += n
		s.metrics.RecordObligationsCreated(trigger, n)
		chunk = chunk[:0]
		return err
	}

	for _, batch := range batches {
		for _, studentID := range studentIDs {
			chunk = append(chunk, models.PaymentObligation{StudentID: studentID, BatchID: batch.ID, Total: batch.Total})
			if len(chunk) == reconcileChunkSize {
				if err := flush(); err != nil {
					return created, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return created, err
	}
	return created, nil
}

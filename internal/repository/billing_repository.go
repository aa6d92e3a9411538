package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
	"github.com/noah-isme/pesantren-billing-api/pkg/database"
)

// ErrDuplicateBatch is returned when a batch already exists for the period.
var ErrDuplicateBatch = errors.New("billing batch already exists for period")

const batchColumns = `id, month, year, spp, kebersihan, konsumsi, pembangunan, total, created_at`

// BillingRepository persists billing batches.
type BillingRepository struct {
	db *sqlx.DB
}

// NewBillingRepository constructs a BillingRepository.
func NewBillingRepository(db *sqlx.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

// List returns batches newest period first. A zero year disables the filter.
func (r *BillingRepository) List(ctx context.Context, year int) ([]models.BillingBatch, error) {
	query := fmt.Sprintf("SELECT %s FROM billing_batches", batchColumns)
	var args []interface{}
	if year > 0 {
		query += " WHERE year = $1"
		args = append(args, year)
	}
	query += " ORDER BY year DESC, month DESC"

	batches := []models.BillingBatch{}
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, fmt.Errorf("list billing batches: %w", err)
	}
	return batches, nil
}

// FindByID loads a batch.
func (r *BillingRepository) FindByID(ctx context.Context, id string) (*models.BillingBatch, error) {
	query := fmt.Sprintf("SELECT %s FROM billing_batches WHERE id = $1", batchColumns)
	var batch models.BillingBatch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find billing batch: %w", err)
	}
	return &batch, nil
}

// FindByPeriod loads the batch for (month, year).
func (r *BillingRepository) FindByPeriod(ctx context.Context, month, year int) (*models.BillingBatch, error) {
	query := fmt.Sprintf("SELECT %s FROM billing_batches WHERE month = $1 AND year = $2", batchColumns)
	var batch models.BillingBatch
	if err := r.db.GetContext(ctx, &batch, query, month, year); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find billing batch by period: %w", err)
	}
	return &batch, nil
}

// Create inserts a batch. The (month, year) unique index backs the duplicate check.
func (r *BillingRepository) Create(ctx context.Context, batch *models.BillingBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO billing_batches (id, month, year, spp, kebersihan, konsumsi, pembangunan, total, created_at)
        VALUES (:id, :month, :year, :spp, :kebersihan, :konsumsi, :pembangunan, :total, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		if database.IsUniqueViolation(err, "billing_batches_month_year_key") {
			return ErrDuplicateBatch
		}
		return fmt.Errorf("create billing batch: %w", err)
	}
	return nil
}

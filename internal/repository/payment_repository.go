package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
	"github.com/noah-isme/pesantren-billing-api/pkg/database"
)

var (
	// ErrStaleObligation means the obligation changed between read and conditional update.
	ErrStaleObligation = errors.New("payment obligation was modified concurrently")
	// ErrDuplicateEntry means a ledger entry with the same idempotency key already exists.
	ErrDuplicateEntry = errors.New("payment entry already recorded")
)

const obligationColumns = `id, student_id, billing_batch_id, total_tagihan, dibayarkan, created_at, updated_at`

// PaymentRepository persists payment obligations and their ledger entries.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs a PaymentRepository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreateMissing inserts obligations that do not exist yet for their (student, batch) pair
// and returns how many were actually created.
func (r *PaymentRepository) CreateMissing(ctx context.Context, obligations []models.PaymentObligation) (created int, err error) {
	if len(obligations) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin obligation transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO payment_obligations (id, student_id, billing_batch_id, total_tagihan, dibayarkan, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, $5, $5)
ON CONFLICT (student_id, billing_batch_id) DO NOTHING`
	now := time.Now().UTC()
	for i := range obligations {
		o := &obligations[i]
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		res, execErr := tx.ExecContext(ctx, query, o.ID, o.StudentID, o.BatchID, o.Total, now)
		if execErr != nil {
			err = fmt.Errorf("insert obligation: %w", execErr)
			return 0, err
		}
		affected, affErr := res.RowsAffected()
		if affErr != nil {
			err = fmt.Errorf("obligation rows affected: %w", affErr)
			return 0, err
		}
		created += int(affected)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit obligations: %w", err)
	}
	return created, nil
}

// FindByID loads an obligation.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.PaymentObligation, error) {
	query := fmt.Sprintf("SELECT %s FROM payment_obligations WHERE id = $1", obligationColumns)
	var obligation models.PaymentObligation
	if err := r.db.GetContext(ctx, &obligation, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find obligation: %w", err)
	}
	return &obligation, nil
}

// List returns obligations joined with student and batch, newest period first.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, int, error) {
	base := `FROM payment_obligations p JOIN students s ON s.id = p.student_id JOIN billing_batches b ON b.id = p.billing_batch_id`
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("p.student_id = $%d", len(args)))
	}
	if filter.Year > 0 {
		args = append(args, filter.Year)
		conditions = append(conditions, fmt.Sprintf("b.year = $%d", len(args)))
	}
	if filter.Month > 0 {
		args = append(args, filter.Month)
		conditions = append(conditions, fmt.Sprintf("b.month = $%d", len(args)))
	}
	if filter.Class != "" {
		args = append(args, filter.Class)
		conditions = append(conditions, fmt.Sprintf("s.class = $%d", len(args)))
	}
	if filter.Gender != "" {
		args = append(args, filter.Gender)
		conditions = append(conditions, fmt.Sprintf("s.gender = $%d", len(args)))
	}
	switch filter.Status {
	case models.StatusPaid:
		conditions = append(conditions, "p.dibayarkan >= p.total_tagihan")
	case models.StatusInstallment:
		conditions = append(conditions, "p.dibayarkan > 0 AND p.dibayarkan < p.total_tagihan")
	case models.StatusUnpaid:
		conditions = append(conditions, "p.dibayarkan = 0 AND p.total_tagihan > 0")
	}
	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	page, size := normalisePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT p.id, p.student_id, p.billing_batch_id, p.total_tagihan, p.dibayarkan, p.created_at, p.updated_at,
        s.id AS "student.id", s.nis AS "student.nis", s.full_name AS "student.full_name", s.gender AS "student.gender", s.class AS "student.class",
        b.id AS "batch.id", b.month AS "batch.month", b.year AS "batch.year", b.total AS "batch.total"
        %s ORDER BY b.year DESC, b.month DESC, s.full_name ASC LIMIT %d OFFSET %d`, base, size, (page-1)*size)

	records := []models.PaymentRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list obligations: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count obligations: %w", err)
	}
	return records, total, nil
}

// ListStatement returns every obligation of a student with its batch breakdown, newest period first.
func (r *PaymentRepository) ListStatement(ctx context.Context, studentID string) ([]models.StatementLine, error) {
	const query = `SELECT p.id AS obligation_id, p.billing_batch_id, b.month, b.year, b.spp, b.kebersihan, b.konsumsi, b.pembangunan,
        p.total_tagihan, p.dibayarkan, p.created_at
        FROM payment_obligations p JOIN billing_batches b ON b.id = p.billing_batch_id
        WHERE p.student_id = $1 ORDER BY b.year DESC, b.month DESC`
	lines := []models.StatementLine{}
	if err := r.db.SelectContext(ctx, &lines, query, studentID); err != nil {
		return nil, fmt.Errorf("list statement: %w", err)
	}
	return lines, nil
}

// FindEntryByKey returns the ledger entry recorded under an idempotency key.
func (r *PaymentRepository) FindEntryByKey(ctx context.Context, key string) (*models.PaymentEntry, error) {
	const query = `SELECT id, obligation_id, amount, idempotency_key, recorded_by, created_at FROM payment_entries WHERE idempotency_key = $1`
	var entry models.PaymentEntry
	if err := r.db.GetContext(ctx, &entry, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find payment entry: %w", err)
	}
	return &entry, nil
}

// ApplyPayment moves dibayarkan from expectedPaid to expectedPaid+entry.Amount and appends the
// ledger entry in one transaction. The update only matches while dibayarkan still equals
// expectedPaid and the new value stays within total_tagihan.
func (r *PaymentRepository) ApplyPayment(ctx context.Context, expectedPaid int64, entry *models.PaymentEntry) (updated *models.PaymentObligation, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin payment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	query := fmt.Sprintf(`UPDATE payment_obligations SET dibayarkan = dibayarkan + $1, updated_at = $2
WHERE id = $3 AND dibayarkan = $4 AND dibayarkan + $1 <= total_tagihan
RETURNING %s`, obligationColumns)
	var obligation models.PaymentObligation
	if err = tx.GetContext(ctx, &obligation, query, entry.Amount, now, entry.ObligationID, expectedPaid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrStaleObligation
			return nil, err
		}
		err = fmt.Errorf("update obligation: %w", err)
		return nil, err
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = now
	const insertEntry = `INSERT INTO payment_entries (id, obligation_id, amount, idempotency_key, recorded_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err = tx.ExecContext(ctx, insertEntry, entry.ID, entry.ObligationID, entry.Amount, entry.IdempotencyKey, entry.RecordedBy, entry.CreatedAt); err != nil {
		if database.IsUniqueViolation(err, "payment_entries_idempotency_key_key") {
			err = ErrDuplicateEntry
			return nil, err
		}
		err = fmt.Errorf("insert payment entry: %w", err)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payment: %w", err)
	}
	return &obligation, nil
}

func normalisePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	if size > 200 {
		size = 200
	}
	return page, size
}

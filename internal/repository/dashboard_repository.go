package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PeriodTotals aggregates the obligations of one batch.
type PeriodTotals struct {
	TotalBilled int64 `db:"total_billed"`
	TotalPaid   int64 `db:"total_paid"`
	Paid        int   `db:"lunas"`
	Installment int   `db:"cicilan"`
	Unpaid      int   `db:"belum_lunas"`
}

// DashboardRepository runs the aggregate queries behind the admin dashboard.
type DashboardRepository struct {
	db *sqlx.DB
}

// NewDashboardRepository constructs a DashboardRepository.
func NewDashboardRepository(db *sqlx.DB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

// CountStudents returns the number of student records.
func (r *DashboardRepository) CountStudents(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM students`); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return total, nil
}

// PeriodTotals sums billed and paid amounts and counts statuses for one batch.
func (r *DashboardRepository) PeriodTotals(ctx context.Context, batchID string) (*PeriodTotals, error) {
	const query = `SELECT
        COALESCE(SUM(total_tagihan), 0) AS total_billed,
        COALESCE(SUM(dibayarkan), 0) AS total_paid,
        COUNT(*) FILTER (WHERE dibayarkan >= total_tagihan) AS lunas,
        COUNT(*) FILTER (WHERE dibayarkan > 0 AND dibayarkan < total_tagihan) AS cicilan,
        COUNT(*) FILTER (WHERE dibayarkan = 0 AND total_tagihan > 0) AS belum_lunas
        FROM payment_obligations WHERE billing_batch_id = $1`
	var totals PeriodTotals
	if err := r.db.GetContext(ctx, &totals, query, batchID); err != nil {
		return nil, fmt.Errorf("period totals: %w", err)
	}
	return &totals, nil
}

// OutstandingAllTime sums total minus paid over every obligation ever created.
func (r *DashboardRepository) OutstandingAllTime(ctx context.Context) (int64, error) {
	var outstanding int64
	if err := r.db.GetContext(ctx, &outstanding, `SELECT COALESCE(SUM(total_tagihan - dibayarkan), 0) FROM payment_obligations`); err != nil {
		return 0, fmt.Errorf("outstanding all time: %w", err)
	}
	return outstanding, nil
}

package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
)

func obligationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "student_id", "billing_batch_id", "total_tagihan", "dibayarkan", "created_at", "updated_at"})
}

func TestPaymentRepositoryCreateMissingCountsInserted(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("ON CONFLICT \\(student_id, billing_batch_id\\) DO NOTHING").
		WithArgs(sqlmock.AnyArg(), "s-1", "b-1", int64(110000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("ON CONFLICT \\(student_id, billing_batch_id\\) DO NOTHING").
		WithArgs(sqlmock.AnyArg(), "s-2", "b-1", int64(110000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	created, err := repo.CreateMissing(context.Background(), []models.PaymentObligation{
		{StudentID: "s-1", BatchID: "b-1", Total: 110000},
		{StudentID: "s-2", BatchID: "b-1", Total: 110000},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryCreateMissingRollsBack(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payment_obligations").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.CreateMissing(context.Background(), []models.PaymentObligation{{StudentID: "s-1", BatchID: "b-1", Total: 1}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryCreateMissingEmpty(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	created, err := repo.CreateMissing(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryListJoinsStudentAndBatch(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "billing_batch_id", "total_tagihan", "dibayarkan", "created_at", "updated_at",
		"student.id", "student.nis", "student.full_name", "student.gender", "student.class",
		"batch.id", "batch.month", "batch.year", "batch.total"}).
		AddRow("o-1", "s-1", "b-1", 110000, 50000, now, now, "s-1", "2601001", "Ahmad", "L", "7A", "b-1", 1, 2026, 110000)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND p.student_id = $1 AND b.year = $2 AND p.dibayarkan > 0 AND p.dibayarkan < p.total_tagihan ORDER BY b.year DESC, b.month DESC, s.full_name ASC LIMIT 50 OFFSET 0")).
		WithArgs("s-1", 2026).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM payment_obligations p")).
		WithArgs("s-1", 2026).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	records, total, err := repo.List(context.Background(), models.PaymentFilter{StudentID: "s-1", Year: 2026, Status: models.StatusInstallment})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Ahmad", records[0].Student.FullName)
	assert.Equal(t, 1, records[0].Batch.Month)
	assert.Equal(t, int64(50000), records[0].Paid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryListCapsPageSize(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectQuery("LIMIT 200 OFFSET 400").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, _, err := repo.List(context.Background(), models.PaymentFilter{Page: 3, PageSize: 1000})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryApplyPayment(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	now := time.Now()
	key := "key-1"
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $3 AND dibayarkan = $4 AND dibayarkan + $1 <= total_tagihan")).
		WithArgs(int64(50000), sqlmock.AnyArg(), "o-1", int64(0)).
		WillReturnRows(obligationRows().AddRow("o-1", "s-1", "b-1", 110000, 50000, now, now))
	mock.ExpectExec("INSERT INTO payment_entries").
		WithArgs(sqlmock.AnyArg(), "o-1", int64(50000), &key, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry := &models.PaymentEntry{ObligationID: "o-1", Amount: 50000, IdempotencyKey: &key}
	updated, err := repo.ApplyPayment(context.Background(), 0, entry)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), updated.Paid)
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryApplyPaymentStale(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE payment_obligations").WillReturnRows(obligationRows())
	mock.ExpectRollback()

	_, err := repo.ApplyPayment(context.Background(), 0, &models.PaymentEntry{ObligationID: "o-1", Amount: 10})
	assert.ErrorIs(t, err, ErrStaleObligation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryApplyPaymentDuplicateKey(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE payment_obligations").
		WillReturnRows(obligationRows().AddRow("o-1", "s-1", "b-1", 100, 10, now, now))
	mock.ExpectExec("INSERT INTO payment_entries").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "payment_entries_idempotency_key_key"})
	mock.ExpectRollback()

	_, err := repo.ApplyPayment(context.Background(), 0, &models.PaymentEntry{ObligationID: "o-1", Amount: 10})
	assert.ErrorIs(t, err, ErrDuplicateEntry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

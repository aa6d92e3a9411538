package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
)

func batchRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "month", "year", "spp", "kebersihan", "konsumsi", "pembangunan", "total", "created_at"})
}

func TestBillingRepositoryListByYear(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewBillingRepository(db)

	rows := batchRows().
		AddRow("b-2", 2, 2026, 100000, 10000, 0, 0, 110000, time.Now()).
		AddRow("b-1", 1, 2026, 100000, 10000, 0, 0, 110000, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM billing_batches WHERE year = $1 ORDER BY year DESC, month DESC")).
		WithArgs(2026).
		WillReturnRows(rows)

	batches, err := repo.List(context.Background(), 2026)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, 2, batches[0].Month)
	assert.Equal(t, int64(100000), batches[0].SPP)
	assert.Equal(t, int64(110000), batches[0].Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepositoryListAllYears(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewBillingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM billing_batches ORDER BY year DESC, month DESC")).
		WillReturnRows(batchRows())

	batches, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.NotNil(t, batches)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewBillingRepository(db)

	mock.ExpectExec("INSERT INTO billing_batches").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "billing_batches_month_year_key"})

	err := repo.Create(context.Background(), &models.BillingBatch{Month: 1, Year: 2026})
	assert.ErrorIs(t, err, ErrDuplicateBatch)
}

func TestBillingRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewBillingRepository(db)

	mock.ExpectExec("INSERT INTO billing_batches").
		WithArgs(sqlmock.AnyArg(), 1, 2026, int64(100000), int64(10000), int64(0), int64(0), int64(110000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	batch := &models.BillingBatch{Month: 1, Year: 2026, FeeComponents: models.FeeComponents{SPP: 100000, Kebersihan: 10000}, Total: 110000}
	require.NoError(t, repo.Create(context.Background(), batch))
	assert.NotEmpty(t, batch.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

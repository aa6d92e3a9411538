package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardRepositoryPeriodTotals(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewDashboardRepository(db)

	mock.ExpectQuery("FROM payment_obligations WHERE billing_batch_id = \\$1").
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows([]string{"total_billed", "total_paid", "lunas", "cicilan", "belum_lunas"}).
			AddRow(220000, 160000, 1, 1, 0))

	totals, err := repo.PeriodTotals(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, int64(220000), totals.TotalBilled)
	assert.Equal(t, int64(160000), totals.TotalPaid)
	assert.Equal(t, 1, totals.Paid)
	assert.Equal(t, 1, totals.Installment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDashboardRepositoryOutstandingAllTime(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewDashboardRepository(db)

	mock.ExpectQuery("SUM\\(total_tagihan - dibayarkan\\)").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(60000))

	outstanding, err := repo.OutstandingAllTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(60000), outstanding)
	assert.NoError(t, mock.ExpectationsWereMet())
}

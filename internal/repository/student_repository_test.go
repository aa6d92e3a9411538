package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "nis", "full_name", "gender", "birth_date", "class", "address", "guardian_name", "enrollment_year", "password_hash", "created_at", "updated_at"})
}

func TestStudentRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	rows := studentRows().AddRow("s-1", "2601001", "Ahmad", "L", now, "7A", "Jl. Melati", "Budi", 2026, "hash", now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM students WHERE 1=1 AND class = $1 AND gender = $2 AND (LOWER(full_name) LIKE $3 ESCAPE '\' OR nis LIKE $3 ESCAPE '\') ORDER BY full_name ASC`)).
		WithArgs("7A", "L", "%ahm%").
		WillReturnRows(rows)

	students, err := repo.List(context.Background(), models.StudentFilter{Class: "7A", Gender: "L", Search: "Ahm"})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "2601001", students[0].NIS)
	assert.Equal(t, "Budi", students[0].GuardianName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListEscapesLikeWildcards(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE 1=1 AND (LOWER(full_name) LIKE $1 ESCAPE")).
		WithArgs(`%100\%\_a\\b%`).
		WillReturnRows(studentRows())

	students, err := repo.List(context.Background(), models.StudentFilter{Search: `100%_A\b`})
	require.NoError(t, err)
	assert.Empty(t, students)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("FROM students WHERE id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListByGuardianName(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	rows := studentRows().
		AddRow("s-1", "2601001", "Ahmad", "L", nil, "7A", "", "Budi", 2026, "h1", now, now).
		AddRow("s-2", "2602001", "Aisyah", "P", nil, "7B", "", "budi", 2026, "h2", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE LOWER(guardian_name) = LOWER($1) ORDER BY nis ASC")).
		WithArgs("BUDI").
		WillReturnRows(rows)

	students, err := repo.ListByGuardianName(context.Background(), "BUDI")
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "s-1", students[0].ID)
	assert.Nil(t, students[0].BirthDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryMaxSequence(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(CAST\\(SUBSTRING\\(nis FROM 5\\)").
		WithArgs("2601").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(7))

	seq, err := repo.MaxSequence(context.Background(), "2601")
	require.NoError(t, err)
	assert.Equal(t, 7, seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExistsByNIS(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE nis = $1 AND id <> $2 LIMIT 1")).
		WithArgs("2601001", "s-1").
		WillReturnError(sql.ErrNoRows)

	exists, err := repo.ExistsByNIS(context.Background(), "2601001", "s-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WithArgs(sqlmock.AnyArg(), "2601001", "Ahmad", "L", sqlmock.AnyArg(), "7A", "", "Budi", 2026, "hash", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	student := &models.Student{NIS: "2601001", FullName: "Ahmad", Gender: "L", Class: "7A", GuardianName: "Budi", EnrollmentYear: 2026, PasswordHash: "hash"}
	require.NoError(t, repo.Create(context.Background(), student))
	assert.NotEmpty(t, student.ID)
	assert.False(t, student.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateDuplicateNIS(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "students_nis_key"})

	err := repo.Create(context.Background(), &models.Student{NIS: "2601001"})
	assert.ErrorIs(t, err, ErrDuplicateNIS)
}

func TestStudentRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "missing"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

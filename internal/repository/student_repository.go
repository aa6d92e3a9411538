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

// ErrDuplicateNIS is returned when the enrollment number unique index rejects an insert.
var ErrDuplicateNIS = errors.New("nis already exists")

// likeEscaper makes user search text match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

const studentColumns = `id, nis, full_name, gender, birth_date, class, address, guardian_name, enrollment_year, password_hash, created_at, updated_at`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters ordered by name.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Class != "" {
		args = append(args, filter.Class)
		conditions = append(conditions, fmt.Sprintf("class = $%d", len(args)))
	}
	if filter.Gender != "" {
		args = append(args, filter.Gender)
		conditions = append(conditions, fmt.Sprintf("gender = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(filter.Search))+"%")
		conditions = append(conditions, fmt.Sprintf(`(LOWER(full_name) LIKE $%d ESCAPE '\' OR nis LIKE $%d ESCAPE '\')`, len(args), len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM students WHERE %s ORDER BY full_name ASC", studentColumns, strings.Join(conditions, " AND "))
	students := []models.Student{}
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// ListIDs returns a snapshot of every enrolled student ID.
func (r *StudentRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM students ORDER BY nis ASC`); err != nil {
		return nil, fmt.Errorf("list student ids: %w", err)
	}
	return ids, nil
}

// FindByID fetches a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// FindByNIS fetches a student by enrollment number.
func (r *StudentRepository) FindByNIS(ctx context.Context, nis string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE nis = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, nis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student by nis: %w", err)
	}
	return &student, nil
}

// ListByGuardianName returns every student whose guardian name matches case-insensitively.
func (r *StudentRepository) ListByGuardianName(ctx context.Context, name string) ([]models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE LOWER(guardian_name) = LOWER($1) ORDER BY nis ASC", studentColumns)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, name); err != nil {
		return nil, fmt.Errorf("list students by guardian: %w", err)
	}
	return students, nil
}

// ExistsByNIS checks if a student with given NIS exists optionally excluding an ID.
func (r *StudentRepository) ExistsByNIS(ctx context.Context, nis string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE nis = $1"
	args := []interface{}{nis}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check nis: %w", err)
	}
	return true, nil
}

// MaxSequence returns the highest 3-digit sequence used under a NIS prefix, 0 when none.
func (r *StudentRepository) MaxSequence(ctx context.Context, prefix string) (int, error) {
	const query = `SELECT COALESCE(MAX(CAST(SUBSTRING(nis FROM 5) AS INTEGER)), 0) FROM students WHERE nis ~ ('^' || $1 || '[0-9]{3}$')`
	var seq int
	if err := r.db.GetContext(ctx, &seq, query, prefix); err != nil {
		return 0, fmt.Errorf("max nis sequence: %w", err)
	}
	return seq, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, nis, full_name, gender, birth_date, class, address, guardian_name, enrollment_year, password_hash, created_at, updated_at)
        VALUES (:id, :nis, :full_name, :gender, :birth_date, :class, :address, :guardian_name, :enrollment_year, :password_hash, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		if database.IsUniqueViolation(err, "students_nis_key") {
			return ErrDuplicateNIS
		}
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies an existing student. NIS and enrollment year are not writable.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET full_name = :full_name, gender = :gender, birth_date = :birth_date, class = :class, address = :address,
        guardian_name = :guardian_name, password_hash = :password_hash, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes a student; obligations and ledger entries cascade through foreign keys.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

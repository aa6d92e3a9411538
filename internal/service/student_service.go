package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/pesantren-billing-api/internal/dto"
	"github.com/noah-isme/pesantren-billing-api/internal/models"
	"github.com/noah-isme/pesantren-billing-api/internal/repository"
	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
)

const (
	birthDateLayout   = "2006-01-02"
	maxNISSequence    = 999
	nisAssignAttempts = 3
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByNIS(ctx context.Context, nis string, excludeID string) (bool, error)
	MaxSequence(ctx context.Context, prefix string) (int, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
}

type studentReconciler interface {
	ReconcileStudent(ctx context.Context, student *models.Student) (int, error)
}

// CreateStudentRequest holds payload for registering a santri. NIS is generated when omitted;
// a supplied NIS determines gender and enrollment year.
type CreateStudentRequest struct {
	NIS            string `json:"nis" validate:"omitempty,number,len=7"`
	FullName       string `json:"nama" validate:"required,max=150"`
	Gender         string `json:"jenis_kelamin" validate:"omitempty,oneof=L P"`
	BirthDate      string `json:"tanggal_lahir" validate:"omitempty,datetime=2006-01-02"`
	Class          string `json:"kelas" validate:"required,max=50"`
	Address        string `json:"alamat" validate:"max=255"`
	GuardianName   string `json:"nama_wali" validate:"required,max=150"`
	EnrollmentYear int    `json:"tahun_masuk" validate:"omitempty,gte=2000,lte=2099"`
	Password       string `json:"password" validate:"omitempty,min=4,max=72"`
}

// UpdateStudentRequest holds payload for updating a santri. Nil fields keep their stored value.
type UpdateStudentRequest struct {
	NIS          *string `json:"nis"`
	FullName     string  `json:"nama" validate:"required,max=150"`
	Class        string  `json:"kelas" validate:"required,max=50"`
	Gender       *string `json:"jenis_kelamin" validate:"omitempty,oneof=L P"`
	BirthDate    *string `json:"tanggal_lahir" validate:"omitempty,datetime=2006-01-02"`
	Address      *string `json:"alamat" validate:"omitempty,max=255"`
	GuardianName *string `json:"nama_wali" validate:"omitempty,min=1,max=150"`
	Password     *string `json:"password" validate:"omitempty,min=4,max=72"`
}

// StudentServiceOptions carries optional collaborators.
type StudentServiceOptions struct {
	Reconciler  studentReconciler
	Invalidator cacheInvalidator
	BcryptCost  int
}

// StudentService handles student use-cases.
type StudentService struct {
	repo        studentRepository
	reconciler  studentReconciler
	invalidator cacheInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
	bcryptCost  int
	now         func() time.Time
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger, opts StudentServiceOptions) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cost := opts.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &StudentService{
		repo:        repo,
		reconciler:  opts.Reconciler,
		invalidator: opts.Invalidator,
		validator:   validate,
		logger:      logger,
		bcryptCost:  cost,
		now:         time.Now,
	}
}

// List returns students matching filter ordered by name.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, error) {
	if filter.Gender != "" && filter.Gender != models.GenderMale && filter.Gender != models.GenderFemale {
		return nil, appErrors.Clone(appErrors.ErrValidation, "gender must be L or P")
	}
	students, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, nil
}

// Get returns one student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a student, assigns the NIS when absent, and bills the student for the
// batches of their enrollment year. A failed catch-up is reported on the result, not as an error.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*dto.CreateStudentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	student := &models.Student{
		FullName:       strings.TrimSpace(req.FullName),
		Gender:         req.Gender,
		Class:          strings.TrimSpace(req.Class),
		Address:        strings.TrimSpace(req.Address),
		GuardianName:   strings.TrimSpace(req.GuardianName),
		EnrollmentYear: req.EnrollmentYear,
	}
	if req.NIS != "" {
		if err := applySuppliedNIS(student, req.NIS); err != nil {
			return nil, err
		}
	} else {
		if student.Gender == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "jenis_kelamin is required when nis is not supplied")
		}
		if student.EnrollmentYear == 0 {
			student.EnrollmentYear = s.now().Year()
		}
	}
	if req.BirthDate != "" {
		birth, err := time.Parse(birthDateLayout, req.BirthDate)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "tanggal_lahir must be YYYY-MM-DD")
		}
		student.BirthDate = &birth
	}

	if err := s.assignNIS(ctx, student, req.NIS); err != nil {
		return nil, err
	}

	password := req.Password
	if password == "" {
		password = DefaultPassword(student)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	student.PasswordHash = string(hash)

	if err := s.insert(ctx, student, req.NIS == ""); err != nil {
		return nil, err
	}
	s.invalidate()

	result := &dto.CreateStudentResult{Student: *student}
	if s.reconciler != nil {
		created, err := s.reconciler.ReconcileStudent(ctx, student)
		result.ObligationsCreated = created
		if err != nil {
			s.logger.Error("student billing catch-up failed", zap.String("student_id", student.ID), zap.Error(err))
			result.CatchUpFailed = true
		}
		if created > 0 {
			s.invalidate()
		}
	}
	return result, nil
}

// Update modifies an existing student. The NIS cannot change.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.NIS != nil && strings.TrimSpace(*req.NIS) != student.NIS {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nis cannot be changed")
	}

	student.FullName = strings.TrimSpace(req.FullName)
	student.Class = strings.TrimSpace(req.Class)
	if req.Gender != nil {
		student.Gender = *req.Gender
	}
	if req.Address != nil {
		student.Address = strings.TrimSpace(*req.Address)
	}
	if req.GuardianName != nil {
		student.GuardianName = strings.TrimSpace(*req.GuardianName)
	}
	if req.BirthDate != nil {
		if *req.BirthDate == "" {
			student.BirthDate = nil
		} else {
			birth, err := time.Parse(birthDateLayout, *req.BirthDate)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "tanggal_lahir must be YYYY-MM-DD")
			}
			student.BirthDate = &birth
		}
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), s.bcryptCost)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
		}
		student.PasswordHash = string(hash)
	}

	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}

// Delete removes a student together with its obligations.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.invalidate()
	return nil
}

// assignNIS validates a supplied NIS or computes the next free one for the student's prefix.
func (s *StudentService) assignNIS(ctx context.Context, student *models.Student, supplied string) error {
	if supplied != "" {
		exists, err := s.repo.ExistsByNIS(ctx, supplied, "")
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate nis")
		}
		if exists {
			return appErrors.Clone(appErrors.ErrConflict, "nis already used")
		}
		student.NIS = supplied
		return nil
	}
	nis, err := s.nextNIS(ctx, student.EnrollmentYear, student.Gender)
	if err != nil {
		return err
	}
	student.NIS = nis
	return nil
}

func (s *StudentService) nextNIS(ctx context.Context, year int, gender string) (string, error) {
	prefix := NISPrefix(year, gender)
	seq, err := s.repo.MaxSequence(ctx, prefix)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate nis")
	}
	if seq >= maxNISSequence {
		return "", appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("nis sequence exhausted for prefix %s", prefix))
	}
	return fmt.Sprintf("%s%03d", prefix, seq+1), nil
}

// insert stores student. A generated NIS that lost a race is recomputed a bounded number of times.
func (s *StudentService) insert(ctx context.Context, student *models.Student, generated bool) error {
	for attempt := 1; ; attempt++ {
		err := s.repo.Create(ctx, student)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateNIS) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
		}
		if !generated || attempt >= nisAssignAttempts {
			return appErrors.Clone(appErrors.ErrConflict, "nis already used")
		}
		s.logger.Warn("generated nis collided, recomputing", zap.String("nis", student.NIS), zap.Int("attempt", attempt))
		student.ID = ""
		nis, nerr := s.nextNIS(ctx, student.EnrollmentYear, student.Gender)
		if nerr != nil {
			return nerr
		}
		student.NIS = nis
	}
}

func (s *StudentService) invalidate() {
	if s.invalidator != nil {
		s.invalidator.Invalidate(DashboardCachePattern)
	}
}

// NISPrefix returns the two-digit enrollment year followed by the gender code (01 male, 02 female).
func NISPrefix(year int, gender string) string {
	code := "01"
	if gender == models.GenderFemale {
		code = "02"
	}
	return fmt.Sprintf("%02d%s", year%100, code)
}

// applySuppliedNIS fills gender and enrollment year from a supplied NIS (YY + 01/02 + sequence).
// Values sent alongside it must agree with the NIS.
func applySuppliedNIS(student *models.Student, nis string) error {
	year := 2000 + int(nis[0]-'0')*10 + int(nis[1]-'0')
	var gender string
	switch nis[2:4] {
	case "01":
		gender = models.GenderMale
	case "02":
		gender = models.GenderFemale
	default:
		return appErrors.Clone(appErrors.ErrValidation, "nis gender code must be 01 or 02")
	}
	if student.Gender != "" && student.Gender != gender {
		return appErrors.Clone(appErrors.ErrValidation, "jenis_kelamin does not match nis")
	}
	if student.EnrollmentYear != 0 && student.EnrollmentYear != year {
		return appErrors.Clone(appErrors.ErrValidation, "tahun_masuk does not match nis")
	}
	student.Gender = gender
	student.EnrollmentYear = year
	return nil
}

// DefaultPassword is the birth date as DDMMYY, or the NIS when no birth date is known.
func DefaultPassword(student *models.Student) string {
	if student.BirthDate == nil {
		return student.NIS
	}
	return student.BirthDate.Format("020106")
}

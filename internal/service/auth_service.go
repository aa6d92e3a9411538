package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
)

// Landing pages per role.
const (
	RedirectAdmin    = "/admin/dashboard"
	RedirectStudent  = "/user"
	RedirectGuardian = "/wali"
)

type authAdminRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.Admin, error)
}

type authStudentRepository interface {
	FindByNIS(ctx context.Context, nis string) (*models.Student, error)
	ListByGuardianName(ctx context.Context, name string) ([]models.Student, error)
}

// AuthConfig defines configuration for token issuance.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
}

// AuthService resolves credentials to an identity and issues stateless access tokens.
type AuthService struct {
	admins    authAdminRepository
	students  authStudentRepository
	audit     *AuditService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// AuthServiceParams groups constructor dependencies.
type AuthServiceParams struct {
	Admins    authAdminRepository
	Students  authStudentRepository
	Audit     *AuditService
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
	Config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(params AuthServiceParams) *AuthService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	cfg := params.Config
	if cfg.AccessTokenExpiry <= 0 {
		cfg.AccessTokenExpiry = 12 * time.Hour
	}
	return &AuthService{
		admins:    params.Admins,
		students:  params.Students,
		audit:     params.Audit,
		metrics:   params.Metrics,
		validator: validate,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
}

// Login tries the credential as an admin username, then as a student NIS, then as a guardian
// name. The first identity whose stored hash verifies the password wins.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "username and password are required")
	}
	username := strings.TrimSpace(req.Username)

	resp, err := s.resolve(ctx, username, req.Password)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		s.metrics.RecordLogin("", false)
		s.logger.Info("login rejected", zap.String("ip", req.IP))
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
	}

	name := resp.User.Name
	if resp.Role == models.RoleGuardian {
		name = resp.User.GuardianName
	}
	token, err := s.generateAccessToken(resp.UserID, resp.Role, name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	resp.AccessToken = token
	resp.ExpiresIn = int64(s.config.AccessTokenExpiry.Seconds())

	s.metrics.RecordLogin(string(resp.Role), true)
	actorID := resp.UserID
	s.audit.Record(ctx, &models.AuditLog{
		ActorID:    &actorID,
		ActorRole:  string(resp.Role),
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: &actorID,
		Payload:    []byte(fmt.Sprintf(`{"role":%q}`, resp.Role)),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})
	return resp, nil
}

func (s *AuthService) resolve(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	admin, err := s.admins.FindByUsername(ctx, username)
	switch {
	case err == nil:
		if verifyPassword(admin.PasswordHash, password) {
			return &models.LoginResponse{
				Role:       models.RoleAdmin,
				UserID:     admin.ID,
				RedirectTo: RedirectAdmin,
				User:       models.IdentityInfo{ID: admin.ID, Username: admin.Username, Name: admin.Username},
			}, nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up admin")
	}

	student, err := s.students.FindByNIS(ctx, username)
	switch {
	case err == nil:
		if verifyPassword(student.PasswordHash, password) {
			return &models.LoginResponse{
				Role:       models.RoleStudent,
				UserID:     student.ID,
				RedirectTo: RedirectStudent,
				User:       studentIdentity(student),
			}, nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up student")
	}

	// Guardian names are not unique; candidates come ordered by NIS and the first verified one wins.
	wards, err := s.students.ListByGuardianName(ctx, username)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up guardian")
	}
	for i := range wards {
		ward := &wards[i]
		if !verifyPassword(ward.PasswordHash, password) {
			continue
		}
		if len(wards) > 1 {
			s.logger.Info("guardian name matches several students", zap.Int("candidates", len(wards)), zap.String("student_id", ward.ID))
		}
		return &models.LoginResponse{
			Role:       models.RoleGuardian,
			UserID:     ward.ID,
			RedirectTo: RedirectGuardian,
			User:       studentIdentity(ward),
		}, nil
	}
	return nil, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	switch claims.Role {
	case models.RoleAdmin, models.RoleStudent, models.RoleGuardian:
	default:
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token role")
	}
	return claims, nil
}

func (s *AuthService) generateAccessToken(userID string, role models.Role, name string) (string, error) {
	issuedAt := s.now().UTC()
	claims := &models.JWTClaims{
		UserID: userID,
		Role:   role,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    s.config.Issuer,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", err
	}
	return signed, nil
}

func verifyPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func studentIdentity(student *models.Student) models.IdentityInfo {
	return models.IdentityInfo{
		ID:           student.ID,
		NIS:          student.NIS,
		Name:         student.FullName,
		Class:        student.Class,
		GuardianName: student.GuardianName,
	}
}

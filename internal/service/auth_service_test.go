package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
)

type mockAdminRepo struct {
	admins map[string]models.Admin
	err    error
}

func (m *mockAdminRepo) FindByUsername(ctx context.Context, username string) (*models.Admin, error) {
	if m.err != nil {
		return nil, m.err
	}
	if a, ok := m.admins[username]; ok {
		return &a, nil
	}
	return nil, sql.ErrNoRows
}

type mockAuthStudentRepo struct {
	students []models.Student
}

func (m *mockAuthStudentRepo) FindByNIS(ctx context.Context, nis string) (*models.Student, error) {
	for _, s := range m.students {
		if s.NIS == nis {
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthStudentRepo) ListByGuardianName(ctx context.Context, name string) ([]models.Student, error) {
	var out []models.Student
	for _, s := range m.students {
		if strings.EqualFold(s.GuardianName, name) {
			out = append(out, s)
		}
	}
	return out, nil
}

type mockAuditRepo struct {
	logs []*models.AuditLog
}

func (m *mockAuditRepo) Create(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newAuthFixture(t *testing.T) (*AuthService, *mockAuditRepo) {
	t.Helper()
	admins := &mockAdminRepo{admins: map[string]models.Admin{
		"admin": {ID: "a-1", Username: "admin", PasswordHash: hashPassword(t, "admin123")},
	}}
	students := &mockAuthStudentRepo{students: []models.Student{
		{ID: "s-1", NIS: "2601001", FullName: "Ahmad", Class: "7A", GuardianName: "Budi Santoso", PasswordHash: hashPassword(t, "090312")},
		{ID: "s-2", NIS: "2601002", FullName: "Umar", Class: "7B", GuardianName: "Budi Santoso", PasswordHash: hashPassword(t, "010112")},
	}}
	audit := &mockAuditRepo{}
	svc := NewAuthService(AuthServiceParams{
		Admins:   admins,
		Students: students,
		Audit:    NewAuditService(audit, zap.NewNop()),
		Metrics:  NewMetricsService(),
		Logger:   zap.NewNop(),
		Config:   AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "test"},
	})
	return svc, audit
}

func TestAuthServiceLoginAdmin(t *testing.T) {
	svc, audit := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "admin123", IP: "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, resp.Role)
	assert.Equal(t, "a-1", resp.UserID)
	assert.Equal(t, RedirectAdmin, resp.RedirectTo)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionLogin, audit.logs[0].Action)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a-1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestAuthServiceLoginStudentByNIS(t *testing.T) {
	svc, _ := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Username: "2601001", Password: "090312"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, resp.Role)
	assert.Equal(t, "s-1", resp.UserID)
	assert.Equal(t, RedirectStudent, resp.RedirectTo)
	assert.Equal(t, "2601001", resp.User.NIS)
}

func TestAuthServiceLoginGuardianCaseInsensitive(t *testing.T) {
	svc, _ := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Username: "budi SANTOSO", Password: "010112"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleGuardian, resp.Role)
	assert.Equal(t, "s-2", resp.UserID)
	assert.Equal(t, RedirectGuardian, resp.RedirectTo)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "s-2", claims.UserID)
	assert.Equal(t, "Budi Santoso", claims.Name)
}

func TestAuthServiceLoginRejectsWrongPassword(t *testing.T) {
	svc, audit := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))
	assert.Empty(t, audit.logs)

	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "", Password: ""})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginStoreFailure(t *testing.T) {
	svc := NewAuthService(AuthServiceParams{
		Admins:   &mockAdminRepo{err: errors.New("db down")},
		Students: &mockAuthStudentRepo{},
		Config:   AuthConfig{AccessTokenSecret: "secret"},
	})
	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "x"})
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenRejectsForeignTokens(t *testing.T) {
	svc, _ := newAuthFixture(t)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{
		UserID: "a-1",
		Role:   models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := foreign.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{
		UserID: "a-1",
		Role:   models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err = expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.Error(t, err)
}

package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
)

type auditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuditService writes the audit trail. Failures are logged and never fail the caller.
type AuditService struct {
	repo   auditRepository
	logger *zap.Logger
}

// NewAuditService constructs an AuditService.
func NewAuditService(repo auditRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger}
}

// Record stores entry.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditLog) {
	if s == nil || s.repo == nil || entry == nil {
		return
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.String("resource", entry.Resource), zap.Error(err))
	}
}

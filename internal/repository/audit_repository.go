package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
)

// AuditRepository stores the audit trail of back-office mutations.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs an AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create stores an audit log entry.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, actor_id, actor_role, action, resource, resource_id, payload, ip_address, user_agent, created_at) VALUES (:id, :actor_id, :actor_role, :action, :resource, :resource_id, :payload, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

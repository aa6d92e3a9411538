package models

import "time"

// Audit actions recorded for back-office mutations.
const (
	AuditActionLogin         = "LOGIN"
	AuditActionStudentCreate = "STUDENT_CREATE"
	AuditActionStudentUpdate = "STUDENT_UPDATE"
	AuditActionStudentDelete = "STUDENT_DELETE"
	AuditActionBatchCreate   = "BATCH_CREATE"
	AuditActionFanOut        = "BATCH_FAN_OUT"
	AuditActionPaymentRecord = "PAYMENT_RECORD"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	ActorRole  string    `db:"actor_role" json:"actor_role"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	Payload    []byte    `db:"payload" json:"payload,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

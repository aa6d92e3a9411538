package models

import "time"

// PaymentStatus is derived from paid against total and never stored.
type PaymentStatus string

const (
	StatusUnpaid      PaymentStatus = "Belum Lunas"
	StatusInstallment PaymentStatus = "Cicilan"
	StatusPaid        PaymentStatus = "Lunas"
)

// DeriveStatus maps cumulative payment to a status.
func DeriveStatus(paid, total int64) PaymentStatus {
	switch {
	case paid >= total:
		return StatusPaid
	case paid > 0:
		return StatusInstallment
	default:
		return StatusUnpaid
	}
}

// ParsePaymentStatus accepts the display name or a slug (lunas, cicilan, belum_lunas).
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch raw {
	case string(StatusPaid), "lunas":
		return StatusPaid, true
	case string(StatusInstallment), "cicilan":
		return StatusInstallment, true
	case string(StatusUnpaid), "belum_lunas":
		return StatusUnpaid, true
	}
	return "", false
}

// PaymentObligation is what one student owes for one batch.
type PaymentObligation struct {
	ID        string        `db:"id" json:"id"`
	StudentID string        `db:"student_id" json:"student_id"`
	BatchID   string        `db:"billing_batch_id" json:"billing_batch_id"`
	Total     int64         `db:"total_tagihan" json:"total_tagihan"`
	Paid      int64         `db:"dibayarkan" json:"dibayarkan"`
	Remaining int64         `db:"-" json:"sisa"`
	Status    PaymentStatus `db:"-" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Derive fills the computed fields.
func (o *PaymentObligation) Derive() {
	o.Remaining = o.Total - o.Paid
	o.Status = DeriveStatus(o.Paid, o.Total)
}

// PaymentRecord is an obligation joined with its student and batch period.
type PaymentRecord struct {
	PaymentObligation
	Student StudentSummary `db:"student" json:"santri"`
	Batch   BatchPeriod    `db:"batch" json:"tagihan_batch"`
}

// PaymentFilter captures filtering criteria for listing obligations.
type PaymentFilter struct {
	StudentID string
	Year      int
	Month     int
	Class     string
	Gender    string
	Status    PaymentStatus
	Page      int
	PageSize  int
}

// PaymentEntry is one accepted installment in the ledger.
type PaymentEntry struct {
	ID             string    `db:"id" json:"id"`
	ObligationID   string    `db:"obligation_id" json:"obligation_id"`
	Amount         int64     `db:"amount" json:"amount"`
	IdempotencyKey *string   `db:"idempotency_key" json:"idempotency_key,omitempty"`
	RecordedBy     *string   `db:"recorded_by" json:"recorded_by,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// StatementLine is one period on a student's statement.
type StatementLine struct {
	ObligationID string `db:"obligation_id" json:"id"`
	BatchID      string `db:"billing_batch_id" json:"billing_batch_id"`
	Month        int    `db:"month" json:"month"`
	Year         int    `db:"year" json:"year"`
	FeeComponents
	Total     int64         `db:"total_tagihan" json:"total_tagihan"`
	Paid      int64         `db:"dibayarkan" json:"dibayarkan"`
	Remaining int64         `db:"-" json:"sisa"`
	Status    PaymentStatus `db:"-" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// Derive fills the computed fields.
func (l *StatementLine) Derive() {
	l.Remaining = l.Total - l.Paid
	l.Status = DeriveStatus(l.Paid, l.Total)
}

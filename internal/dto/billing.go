package dto

import "github.com/noah-isme/pesantren-billing-api/internal/models"

// CreateBatchResult is returned after a batch is stored and fanned out.
type CreateBatchResult struct {
	Batch              models.BillingBatch `json:"batch"`
	StudentCount       int                 `json:"studentCount"`
	ObligationsCreated int                 `json:"obligationsCreated"`
}

// StudentStatement lists every obligation of one student, newest period first.
type StudentStatement struct {
	Student  models.Student         `json:"student"`
	Payments []models.StatementLine `json:"payments"`
}

// CreateStudentResult carries the stored student and the outcome of its billing catch-up.
type CreateStudentResult struct {
	Student            models.Student `json:"student"`
	ObligationsCreated int            `json:"obligationsCreated"`
	CatchUpFailed      bool           `json:"-"`
}

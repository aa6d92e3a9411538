package dto

import "time"

// MetricsSnapshot is a JSON view over the in-process counters.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"avgRequestDurationMs"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	PaymentsRecorded         uint64    `json:"paymentsRecorded"`
	PaymentsRejected         uint64    `json:"paymentsRejected"`
	PaymentConflictRetries   uint64    `json:"paymentConflictRetries"`
	ObligationsCreated       uint64    `json:"obligationsCreated"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

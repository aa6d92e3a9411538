package models

import "time"

// FeeComponents holds the monthly fee lines of a batch, in whole rupiah.
type FeeComponents struct {
	SPP         int64 `db:"spp" json:"spp"`
	Kebersihan  int64 `db:"kebersihan" json:"kebersihan"`
	Konsumsi    int64 `db:"konsumsi" json:"konsumsi"`
	Pembangunan int64 `db:"pembangunan" json:"pembangunan"`
}

// MaxFeeComponent caps a single fee line so a batch total always fits in int64.
const MaxFeeComponent int64 = 1_000_000_000_000

// Sum adds every component.
func (f FeeComponents) Sum() int64 {
	return f.SPP + f.Kebersihan + f.Konsumsi + f.Pembangunan
}

// BillingBatch is the fee definition for one (month, year). Total is stored, never recomputed.
type BillingBatch struct {
	ID    string `db:"id" json:"id"`
	Month int    `db:"month" json:"month"`
	Year  int    `db:"year" json:"year"`
	FeeComponents
	Total     int64     `db:"total" json:"total"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// BatchPeriod is the slice of a batch embedded in payment listings.
type BatchPeriod struct {
	ID    string `db:"id" json:"id"`
	Month int    `db:"month" json:"month"`
	Year  int    `db:"year" json:"year"`
	Total int64  `db:"total" json:"total"`
}

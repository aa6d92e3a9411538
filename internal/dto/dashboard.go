package dto

// DashboardSummary captures the admin billing dashboard payload.
type DashboardSummary struct {
	TotalStudents           int           `json:"total_students"`
	Period                  PeriodSummary `json:"period"`
	TotalOutstandingAllTime int64         `json:"total_outstanding_all_time"`
}

// PeriodSummary aggregates the obligations of the requested month.
type PeriodSummary struct {
	Month          int          `json:"month"`
	Year           int          `json:"year"`
	BatchExists    bool         `json:"batch_exists"`
	TotalBilled    int64        `json:"total_billed"`
	TotalPaid      int64        `json:"total_paid"`
	Outstanding    int64        `json:"outstanding"`
	StatusCounts   StatusCounts `json:"status_counts"`
	CollectionRate float64      `json:"collection_rate"`
}

// StatusCounts tallies obligations by derived status.
type StatusCounts struct {
	Lunas      int `json:"lunas"`
	Cicilan    int `json:"cicilan"`
	BelumLunas int `json:"belum_lunas"`
}

package models

// Dashboard aggregates the admin landing-page numbers for one cycle.
type Dashboard struct {
	Cycle           string                     `json:"cycle"`
	StatusCounts    map[EnrollmentStatus]int   `json:"status_counts"`
	LevelCounts     map[string]int             `json:"level_counts"`
	UnassignedCount int                        `json:"unassigned_count"`
	PaymentTotals   map[PaymentConcept]float64 `json:"payment_totals"`
}

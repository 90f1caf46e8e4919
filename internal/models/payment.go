package models

import "time"

// PaymentConcept identifies what a payment row covers.
type PaymentConcept string

const (
	ConceptEnrollmentFee PaymentConcept = "MATRICULA"
	ConceptInsurance     PaymentConcept = "SEGURO"
)

// Valid reports whether the concept is known.
func (c PaymentConcept) Valid() bool {
	return c == ConceptEnrollmentFee || c == ConceptInsurance
}

// PaymentRecord is one treasury row per enrollment and concept. The
// enrollment reference is nullable: deleting an enrollment without
// cascading detaches its payments, and the student snapshot keeps the
// row readable for treasury history.
type PaymentRecord struct {
	ID              string         `db:"id" json:"id"`
	EnrollmentID    *string        `db:"enrollment_id" json:"enrollment_id,omitempty"`
	Concept         PaymentConcept `db:"concept" json:"concept"`
	Amount          float64        `db:"amount" json:"amount"`
	Paid            bool           `db:"paid" json:"paid"`
	PaidAt          *time.Time     `db:"paid_at" json:"paid_at,omitempty"`
	ReceiptNumber   *int64         `db:"receipt_number" json:"receipt_number,omitempty"`
	Notes           string         `db:"notes" json:"notes"`
	StudentName     string         `db:"student_name" json:"student_name"`
	StudentDNI      string         `db:"student_dni" json:"student_dni"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// PaymentFilter narrows treasury listings.
type PaymentFilter struct {
	Cycle    string
	Concept  PaymentConcept
	Paid     *bool
	DateFrom *time.Time
	DateTo   *time.Time
	Search   string
	Page     int
	PageSize int
}

// InsuranceEntry is one row of the insurance compliance report.
type InsuranceEntry struct {
	EnrollmentID string     `db:"enrollment_id" json:"enrollment_id"`
	StudentName  string     `db:"student_name" json:"student_name"`
	StudentDNI   string     `db:"student_dni" json:"student_dni"`
	LevelCode    string     `db:"level_code" json:"level_code"`
	Paid         bool       `db:"paid" json:"paid"`
	PaidAt       *time.Time `db:"paid_at" json:"paid_at,omitempty"`
}

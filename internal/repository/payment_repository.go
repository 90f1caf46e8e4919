package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/colegio-digital/enrollment-api/internal/models"
)

// ErrDuplicateConcept is returned when a second payment row for the same
// enrollment and concept hits the unique index.
var ErrDuplicateConcept = errors.New("payment already recorded for enrollment and concept")

// PaymentRepository persists the treasury ledger.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `p.id, p.enrollment_id, p.concept, p.amount, p.paid, p.paid_at, p.receipt_number, p.notes, p.student_name, p.student_dni, p.created_at, p.updated_at`

// Create inserts a new payment row. When the row is already marked paid
// a receipt number is drawn from the receipt sequence.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.PaymentRecord) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	receiptExpr := "NULL"
	if payment.Paid {
		receiptExpr = "nextval('receipt_number_seq')"
	}
	query := fmt.Sprintf(`INSERT INTO payments (id, enrollment_id, concept, amount, paid, paid_at, receipt_number, notes, student_name, student_dni, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, %s, $7, $8, $9, $10, $10)
RETURNING receipt_number`, receiptExpr)

	var receipt sql.NullInt64
	err := r.db.QueryRowxContext(ctx, query, payment.ID, payment.EnrollmentID, payment.Concept,
		payment.Amount, payment.Paid, payment.PaidAt, payment.Notes,
		payment.StudentName, payment.StudentDNI, now).Scan(&receipt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConcept
		}
		return fmt.Errorf("create payment: %w", err)
	}
	if receipt.Valid {
		payment.ReceiptNumber = &receipt.Int64
	}
	return nil
}

// FindByID returns a payment row by identifier.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.PaymentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments p WHERE p.id = $1`, paymentColumns)
	var payment models.PaymentRecord
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Update corrects amount, paid flag, date and notes. Marking a row paid
// for the first time allocates its receipt number.
func (r *PaymentRepository) Update(ctx context.Context, payment *models.PaymentRecord) error {
	payment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE payments SET amount = $2, paid = $3, paid_at = $4, notes = $5, updated_at = $6,
        receipt_number = CASE WHEN $3 AND receipt_number IS NULL THEN nextval('receipt_number_seq') ELSE receipt_number END
        WHERE id = $1
        RETURNING receipt_number`
	var receipt sql.NullInt64
	err := r.db.QueryRowxContext(ctx, query, payment.ID, payment.Amount, payment.Paid,
		payment.PaidAt, payment.Notes, payment.UpdatedAt).Scan(&receipt)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if receipt.Valid {
		payment.ReceiptNumber = &receipt.Int64
	} else {
		payment.ReceiptNumber = nil
	}
	return nil
}

// ListByEnrollment returns the payment rows attached to an enrollment.
func (r *PaymentRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.PaymentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments p WHERE p.enrollment_id = $1 ORDER BY p.concept`, paymentColumns)
	var payments []models.PaymentRecord
	if err := r.db.SelectContext(ctx, &payments, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment payments: %w", err)
	}
	return payments, nil
}

// List returns treasury rows filtered by the provided criteria. Detached
// rows (deleted enrollments) stay visible through their snapshots.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, int, error) {
	base := `FROM payments p LEFT JOIN enrollments e ON e.id = p.enrollment_id`
	var conditions []string
	var args []interface{}

	if filter.Cycle != "" {
		conditions = append(conditions, fmt.Sprintf("e.cycle = $%d", len(args)+1))
		args = append(args, filter.Cycle)
	}
	if filter.Concept != "" {
		conditions = append(conditions, fmt.Sprintf("p.concept = $%d", len(args)+1))
		args = append(args, filter.Concept)
	}
	if filter.Paid != nil {
		conditions = append(conditions, fmt.Sprintf("p.paid = $%d", len(args)+1))
		args = append(args, *filter.Paid)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("p.paid_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("p.paid_at <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(p.student_name) LIKE $%d OR p.student_dni LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s%s ORDER BY p.created_at DESC LIMIT %d OFFSET %d",
		paymentColumns, base, clause, size, offset)

	var payments []models.PaymentRecord
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", base, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}

// InsuranceReport lists every approved enrollment in the cycle together
// with its insurance payment state.
func (r *PaymentRepository) InsuranceReport(ctx context.Context, cycle string) ([]models.InsuranceEntry, error) {
	const query = `SELECT e.id AS enrollment_id,
        s.last_name || ', ' || s.first_name AS student_name,
        s.dni AS student_dni,
        e.level_code,
        COALESCE(p.paid, FALSE) AS paid,
        p.paid_at
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        LEFT JOIN payments p ON p.enrollment_id = e.id AND p.concept = $2
        WHERE e.cycle = $1 AND e.status = $3
        ORDER BY s.last_name, s.first_name`
	var entries []models.InsuranceEntry
	if err := r.db.SelectContext(ctx, &entries, query, cycle, models.ConceptInsurance, models.EnrollmentStatusApproved); err != nil {
		return nil, fmt.Errorf("insurance report: %w", err)
	}
	return entries, nil
}

// Totals sums recorded and collected amounts per concept for a cycle.
func (r *PaymentRepository) Totals(ctx context.Context, cycle string) (map[models.PaymentConcept]float64, error) {
	const query = `SELECT p.concept, COALESCE(SUM(p.amount), 0) AS total
        FROM payments p
        JOIN enrollments e ON e.id = p.enrollment_id
        WHERE e.cycle = $1 AND p.paid = TRUE
        GROUP BY p.concept`
	rows, err := r.db.QueryxContext(ctx, query, cycle)
	if err != nil {
		return nil, fmt.Errorf("payment totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[models.PaymentConcept]float64)
	for rows.Next() {
		var concept models.PaymentConcept
		var total float64
		if err := rows.Scan(&concept, &total); err != nil {
			return nil, fmt.Errorf("scan payment total: %w", err)
		}
		totals[concept] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment totals: %w", err)
	}
	return totals, nil
}

package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colegio-digital/enrollment-api/internal/models"
)

func newPaymentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPaymentRepositoryCreatePaidDrawsReceipt(t *testing.T) {
	db, mock, closeFn := newPaymentRepoMock(t)
	defer closeFn()

	enrollmentID := "e1"
	paidAt := time.Date(2025, 12, 1, 10, 30, 0, 0, time.UTC)
	payment := &models.PaymentRecord{
		EnrollmentID: &enrollmentID,
		Concept:      models.ConceptEnrollmentFee,
		Amount:       150000,
		Paid:         true,
		PaidAt:       &paidAt,
		StudentName:  "Pérez, Lucía",
		StudentDNI:   "45000123",
	}

	mock.ExpectQuery(regexp.QuoteMeta("nextval('receipt_number_seq')")).
		WithArgs(sqlmock.AnyArg(), &enrollmentID, models.ConceptEnrollmentFee, 150000.0, true,
			&paidAt, "", "Pérez, Lucía", "45000123", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"receipt_number"}).AddRow(int64(7)))

	require.NoError(t, NewPaymentRepository(db).Create(context.Background(), payment))
	require.NotNil(t, payment.ReceiptNumber)
	assert.Equal(t, int64(7), *payment.ReceiptNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryCreateDuplicateConcept(t *testing.T) {
	db, mock, closeFn := newPaymentRepoMock(t)
	defer closeFn()

	enrollmentID := "e1"
	payment := &models.PaymentRecord{
		EnrollmentID: &enrollmentID,
		Concept:      models.ConceptInsurance,
		Amount:       5000,
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := NewPaymentRepository(db).Create(context.Background(), payment)
	require.ErrorIs(t, err, ErrDuplicateConcept)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryUpdateUnmarkKeepsReceipt(t *testing.T) {
	db, mock, closeFn := newPaymentRepoMock(t)
	defer closeFn()

	payment := &models.PaymentRecord{
		ID:     "p1",
		Amount: 150000,
		Paid:   false,
	}

	mock.ExpectQuery(regexp.QuoteMeta("CASE WHEN $3 AND receipt_number IS NULL THEN nextval('receipt_number_seq') ELSE receipt_number END")).
		WithArgs("p1", 150000.0, false, nil, "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"receipt_number"}).AddRow(int64(42)))

	require.NoError(t, NewPaymentRepository(db).Update(context.Background(), payment))
	require.NotNil(t, payment.ReceiptNumber)
	assert.Equal(t, int64(42), *payment.ReceiptNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryInsuranceReport(t *testing.T) {
	db, mock, closeFn := newPaymentRepoMock(t)
	defer closeFn()

	paidAt := time.Date(2025, 12, 1, 10, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"enrollment_id", "student_name", "student_dni", "level_code", "paid", "paid_at"}).
		AddRow("e1", "Gómez, Ana", "46000456", "1CB", false, nil).
		AddRow("e2", "Pérez, Lucía", "45000123", "1CB", true, paidAt)

	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(p.paid, FALSE) AS paid")).
		WithArgs("2026", models.ConceptInsurance, models.EnrollmentStatusApproved).
		WillReturnRows(rows)

	entries, err := NewPaymentRepository(db).InsuranceReport(context.Background(), "2026")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Paid)
	assert.Nil(t, entries[0].PaidAt)
	assert.True(t, entries[1].Paid)
	require.NotNil(t, entries[1].PaidAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryTotals(t *testing.T) {
	db, mock, closeFn := newPaymentRepoMock(t)
	defer closeFn()

	rows := sqlmock.NewRows([]string{"concept", "total"}).
		AddRow("MATRICULA", 600000.0).
		AddRow("SEGURO", 45000.0)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY p.concept")).
		WithArgs("2026").
		WillReturnRows(rows)

	totals, err := NewPaymentRepository(db).Totals(context.Background(), "2026")
	require.NoError(t, err)
	assert.Equal(t, 600000.0, totals[models.ConceptEnrollmentFee])
	assert.Equal(t, 45000.0, totals[models.ConceptInsurance])
	require.NoError(t, mock.ExpectationsWereMet())
}

package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colegio-digital/enrollment-api/internal/models"
	"github.com/colegio-digital/enrollment-api/internal/repository"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
)

type mockPaymentRepo struct {
	payments  map[string]*models.PaymentRecord
	createErr error
	nextSeq   int64
	totals    map[models.PaymentConcept]float64
}

func (m *mockPaymentRepo) Create(ctx context.Context, payment *models.PaymentRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.payments == nil {
		m.payments = make(map[string]*models.PaymentRecord)
	}
	payment.ID = "p-new"
	if payment.Paid {
		m.nextSeq++
		seq := m.nextSeq
		payment.ReceiptNumber = &seq
	}
	cp := *payment
	m.payments[payment.ID] = &cp
	return nil
}

func (m *mockPaymentRepo) FindByID(ctx context.Context, id string) (*models.PaymentRecord, error) {
	if p, ok := m.payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentRepo) Update(ctx context.Context, payment *models.PaymentRecord) error {
	if _, ok := m.payments[payment.ID]; !ok {
		return sql.ErrNoRows
	}
	if payment.Paid && payment.ReceiptNumber == nil {
		m.nextSeq++
		seq := m.nextSeq
		payment.ReceiptNumber = &seq
	}
	cp := *payment
	m.payments[payment.ID] = &cp
	return nil
}

func (m *mockPaymentRepo) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.PaymentRecord, error) {
	return nil, nil
}

func (m *mockPaymentRepo) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, int, error) {
	return nil, 0, nil
}

func (m *mockPaymentRepo) InsuranceReport(ctx context.Context, cycle string) ([]models.InsuranceEntry, error) {
	return nil, nil
}

func (m *mockPaymentRepo) Totals(ctx context.Context, cycle string) (map[models.PaymentConcept]float64, error) {
	return m.totals, nil
}

type mockPaymentEnrollments struct {
	details map[string]*models.EnrollmentDetail
}

func (m *mockPaymentEnrollments) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if d, ok := m.details[id]; ok {
		return d, nil
	}
	return nil, sql.ErrNoRows
}

func approvedDetail(id string) *models.EnrollmentDetail {
	return &models.EnrollmentDetail{
		Enrollment:       models.Enrollment{ID: id, Status: models.EnrollmentStatusApproved},
		StudentFirstName: "Lucía",
		StudentLastName:  "Pérez",
		StudentDNI:       "45000123",
	}
}

func newPaymentService(repo *mockPaymentRepo, enrollments *mockPaymentEnrollments) *PaymentService {
	return NewPaymentService(repo, enrollments, &mockAuditWriter{}, nil, nil)
}

func TestRecordPayment(t *testing.T) {
	repo := &mockPaymentRepo{}
	svc := newPaymentService(repo, &mockPaymentEnrollments{details: map[string]*models.EnrollmentDetail{
		"e1": approvedDetail("e1"),
	}})

	payment, err := svc.Record(context.Background(), RecordPaymentRequest{
		EnrollmentID: "e1",
		Concept:      models.ConceptEnrollmentFee,
		Amount:       15000,
		Paid:         true,
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, "Pérez, Lucía", payment.StudentName)
	assert.Equal(t, "45000123", payment.StudentDNI)
	require.NotNil(t, payment.EnrollmentID)
	assert.Equal(t, "e1", *payment.EnrollmentID)
	assert.NotNil(t, payment.PaidAt)
}

func TestRecordPaymentNotApproved(t *testing.T) {
	pending := approvedDetail("e1")
	pending.Status = models.EnrollmentStatusPending
	svc := newPaymentService(&mockPaymentRepo{}, &mockPaymentEnrollments{details: map[string]*models.EnrollmentDetail{
		"e1": pending,
	}})

	_, err := svc.Record(context.Background(), RecordPaymentRequest{
		EnrollmentID: "e1",
		Concept:      models.ConceptInsurance,
		Amount:       5000,
	}, admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestRecordPaymentDuplicateConcept(t *testing.T) {
	repo := &mockPaymentRepo{createErr: repository.ErrDuplicateConcept}
	svc := newPaymentService(repo, &mockPaymentEnrollments{details: map[string]*models.EnrollmentDetail{
		"e1": approvedDetail("e1"),
	}})

	_, err := svc.Record(context.Background(), RecordPaymentRequest{
		EnrollmentID: "e1",
		Concept:      models.ConceptEnrollmentFee,
		Amount:       15000,
	}, admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestRecordPaymentValidation(t *testing.T) {
	svc := newPaymentService(&mockPaymentRepo{}, &mockPaymentEnrollments{})

	_, err := svc.Record(context.Background(), RecordPaymentRequest{
		EnrollmentID: "e1",
		Concept:      models.ConceptEnrollmentFee,
		Amount:       -1,
	}, admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Record(context.Background(), RecordPaymentRequest{
		EnrollmentID: "e1",
		Concept:      models.PaymentConcept("RIFA"),
		Amount:       100,
	}, admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUpdatePaymentMarksPaid(t *testing.T) {
	repo := &mockPaymentRepo{payments: map[string]*models.PaymentRecord{
		"p1": {ID: "p1", Concept: models.ConceptEnrollmentFee, Amount: 15000, Paid: false},
	}}
	svc := newPaymentService(repo, &mockPaymentEnrollments{})

	payment, err := svc.Update(context.Background(), "p1", UpdatePaymentRequest{
		Amount: 15000,
		Paid:   true,
	}, admin())
	require.NoError(t, err)
	assert.True(t, payment.Paid)
	assert.NotNil(t, payment.PaidAt)
	require.NotNil(t, payment.ReceiptNumber)
	assert.Equal(t, int64(1), *payment.ReceiptNumber)
}

func TestUpdatePaymentUnmarkKeepsReceipt(t *testing.T) {
	paidAt := time.Now().UTC()
	receipt := int64(42)
	repo := &mockPaymentRepo{payments: map[string]*models.PaymentRecord{
		"p1": {ID: "p1", Concept: models.ConceptInsurance, Amount: 5000, Paid: true, PaidAt: &paidAt, ReceiptNumber: &receipt},
	}}
	svc := newPaymentService(repo, &mockPaymentEnrollments{})

	payment, err := svc.Update(context.Background(), "p1", UpdatePaymentRequest{
		Amount: 5000,
		Paid:   false,
	}, admin())
	require.NoError(t, err)
	assert.False(t, payment.Paid)
	assert.Nil(t, payment.PaidAt)
	require.NotNil(t, payment.ReceiptNumber)
	assert.Equal(t, int64(42), *payment.ReceiptNumber)
}

func TestPaymentListFilterValidation(t *testing.T) {
	svc := newPaymentService(&mockPaymentRepo{}, &mockPaymentEnrollments{})

	_, _, err := svc.List(context.Background(), models.PaymentFilter{Concept: models.PaymentConcept("RIFA")})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, pagination, err := svc.List(context.Background(), models.PaymentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
}

func TestPaymentTotalsRequireCycle(t *testing.T) {
	repo := &mockPaymentRepo{totals: map[models.PaymentConcept]float64{models.ConceptEnrollmentFee: 45000}}
	svc := newPaymentService(repo, &mockPaymentEnrollments{})

	_, err := svc.Totals(context.Background(), "")
	require.Error(t, err)

	totals, err := svc.Totals(context.Background(), "2026")
	require.NoError(t, err)
	assert.Equal(t, 45000.0, totals[models.ConceptEnrollmentFee])

	_, err = svc.InsuranceReport(context.Background(), "")
	require.Error(t, err)
}

package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colegio-digital/enrollment-api/internal/models"
)

type mockReportRepo struct {
	statusCounts map[models.EnrollmentStatus]int
	levelCounts  map[string]int
	unassigned   int
}

func (m *mockReportRepo) StatusCounts(ctx context.Context, cycle string) (map[models.EnrollmentStatus]int, error) {
	return m.statusCounts, nil
}

func (m *mockReportRepo) LevelCounts(ctx context.Context, cycle string) (map[string]int, error) {
	return m.levelCounts, nil
}

func (m *mockReportRepo) UnassignedCount(ctx context.Context, cycle string) (int, error) {
	return m.unassigned, nil
}

type mockReportEnrollments struct {
	pages map[int][]models.EnrollmentDetail
	total int
}

func (m *mockReportEnrollments) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return m.pages[filter.Page], m.total, nil
}

type mockReportPayments struct {
	payments []models.PaymentRecord
	totals   map[models.PaymentConcept]float64
}

func (m *mockReportPayments) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, int, error) {
	if filter.Page > 1 {
		return nil, len(m.payments), nil
	}
	return m.payments, len(m.payments), nil
}

func (m *mockReportPayments) Totals(ctx context.Context, cycle string) (map[models.PaymentConcept]float64, error) {
	return m.totals, nil
}

func TestReportDashboard(t *testing.T) {
	reports := &mockReportRepo{
		statusCounts: map[models.EnrollmentStatus]int{
			models.EnrollmentStatusPending:  12,
			models.EnrollmentStatusApproved: 40,
		},
		levelCounts: map[string]int{"1CB": 30, "4CS": 22},
		unassigned:  7,
	}
	payments := &mockReportPayments{totals: map[models.PaymentConcept]float64{models.ConceptEnrollmentFee: 600000}}
	svc := NewReportService(reports, &mockReportEnrollments{}, payments, nil, nil)

	dashboard, err := svc.Dashboard(context.Background(), "2026")
	require.NoError(t, err)
	assert.Equal(t, "2026", dashboard.Cycle)
	assert.Equal(t, 40, dashboard.StatusCounts[models.EnrollmentStatusApproved])
	assert.Equal(t, 7, dashboard.UnassignedCount)
	assert.Equal(t, 600000.0, dashboard.PaymentTotals[models.ConceptEnrollmentFee])

	_, err = svc.Dashboard(context.Background(), "")
	require.Error(t, err)
}

func TestReportExportEnrollmentsPagesThrough(t *testing.T) {
	label := "1° 1° CB - TM"
	firstPage := make([]models.EnrollmentDetail, exportPageSize)
	for i := range firstPage {
		firstPage[i] = models.EnrollmentDetail{
			Enrollment:      models.Enrollment{Cycle: "2026", LevelCode: "1CB", Status: models.EnrollmentStatusApproved, CreatedAt: time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)},
			StudentDNI:      "45000123",
			StudentLastName: "Pérez",
			SectionLabel:    &label,
		}
	}
	secondPage := []models.EnrollmentDetail{{
		Enrollment:      models.Enrollment{Cycle: "2026", LevelCode: "4CS", Status: models.EnrollmentStatusPending, CreatedAt: time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC)},
		StudentDNI:      "46000456",
		StudentLastName: "Gómez",
	}}
	enrollments := &mockReportEnrollments{
		pages: map[int][]models.EnrollmentDetail{1: firstPage, 2: secondPage},
		total: exportPageSize + 1,
	}
	svc := NewReportService(&mockReportRepo{}, enrollments, &mockReportPayments{}, nil, nil)

	payload, err := svc.ExportEnrollments(context.Background(), models.EnrollmentFilter{Cycle: "2026"})
	require.NoError(t, err)

	out, hadBOM := strings.CutPrefix(string(payload), "\xef\xbb\xbf")
	assert.True(t, hadBOM)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, exportPageSize+2)
	assert.Equal(t, "DNI,Apellido,Nombre,Nivel,Curso,Estado,Ciclo,Fecha", lines[0])
	assert.Contains(t, lines[1], "1° 1° CB - TM")
	assert.Contains(t, lines[len(lines)-1], "46000456")
}

func TestReportExportTreasury(t *testing.T) {
	receipt := int64(1042)
	paidAt := time.Date(2025, 12, 1, 10, 30, 0, 0, time.UTC)
	payments := &mockReportPayments{payments: []models.PaymentRecord{
		{ReceiptNumber: &receipt, Concept: models.ConceptEnrollmentFee, StudentName: "Pérez, Lucía", StudentDNI: "45000123", Amount: 15000, Paid: true, PaidAt: &paidAt},
		{Concept: models.ConceptInsurance, StudentName: "Gómez, Ana", StudentDNI: "46000456", Amount: 5000, Paid: false},
	}}
	svc := NewReportService(&mockReportRepo{}, &mockReportEnrollments{}, payments, nil, nil)

	payload, err := svc.ExportTreasury(context.Background(), models.PaymentFilter{Cycle: "2026"})
	require.NoError(t, err)

	out := strings.TrimPrefix(string(payload), "\xef\xbb\xbf")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Recibo,Concepto,Alumno,DNI,Monto,Pagado,Fecha de pago,Notas", lines[0])
	assert.Contains(t, lines[1], "1042")
	assert.Contains(t, lines[1], "15000.00")
	assert.Contains(t, lines[1], "2025-12-01T10:30:00Z")
	// An unpaid row is listed with an empty receipt column.
	assert.True(t, strings.HasPrefix(lines[2], ","))
}

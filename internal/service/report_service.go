package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/colegio-digital/enrollment-api/internal/models"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
	"github.com/colegio-digital/enrollment-api/pkg/export"
)

const exportPageSize = 500

type reportRepository interface {
	StatusCounts(ctx context.Context, cycle string) (map[models.EnrollmentStatus]int, error)
	LevelCounts(ctx context.Context, cycle string) (map[string]int, error)
	UnassignedCount(ctx context.Context, cycle string) (int, error)
}

type reportEnrollmentLister interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type reportPaymentReader interface {
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, int, error)
	Totals(ctx context.Context, cycle string) (map[models.PaymentConcept]float64, error)
}

// ReportService builds the admin dashboard and the spreadsheet exports.
type ReportService struct {
	reports     reportRepository
	enrollments reportEnrollmentLister
	payments    reportPaymentReader
	exporter    *export.CSVExporter
	logger      *zap.Logger
}

// NewReportService constructs ReportService.
func NewReportService(reports reportRepository, enrollments reportEnrollmentLister, payments reportPaymentReader, exporter *export.CSVExporter, logger *zap.Logger) *ReportService {
	if exporter == nil {
		exporter = export.NewCSVExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{reports: reports, enrollments: enrollments, payments: payments, exporter: exporter, logger: logger}
}

// Dashboard returns the cycle's headline numbers.
func (s *ReportService) Dashboard(ctx context.Context, cycle string) (*models.Dashboard, error) {
	if cycle == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cycle is required")
	}

	statusCounts, err := s.reports.StatusCounts(ctx, cycle)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments by status")
	}
	levelCounts, err := s.reports.LevelCounts(ctx, cycle)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments by level")
	}
	unassigned, err := s.reports.UnassignedCount(ctx, cycle)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unassigned enrollments")
	}
	totals, err := s.payments.Totals(ctx, cycle)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute payment totals")
	}

	return &models.Dashboard{
		Cycle:           cycle,
		StatusCounts:    statusCounts,
		LevelCounts:     levelCounts,
		UnassignedCount: unassigned,
		PaymentTotals:   totals,
	}, nil
}

// ExportEnrollments renders the filtered enrollment listing as CSV.
func (s *ReportService) ExportEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]byte, error) {
	headers := []string{"DNI", "Apellido", "Nombre", "Nivel", "Curso", "Estado", "Ciclo", "Fecha"}
	var rows []map[string]string

	filter.Page = 1
	filter.PageSize = exportPageSize
	for {
		enrollments, total, err := s.enrollments.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments for export")
		}
		for _, e := range enrollments {
			section := ""
			if e.SectionLabel != nil {
				section = *e.SectionLabel
			}
			rows = append(rows, map[string]string{
				"DNI":      e.StudentDNI,
				"Apellido": e.StudentLastName,
				"Nombre":   e.StudentFirstName,
				"Nivel":    e.LevelCode,
				"Curso":    section,
				"Estado":   string(e.Status),
				"Ciclo":    e.Cycle,
				"Fecha":    e.CreatedAt.Format("2006-01-02"),
			})
		}
		if filter.Page*filter.PageSize >= total || len(enrollments) == 0 {
			break
		}
		filter.Page++
	}

	payload, err := s.exporter.Render(export.Dataset{Headers: headers, Rows: rows})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render enrollment export")
	}
	return payload, nil
}

// ExportTreasury renders the filtered payment ledger as CSV.
func (s *ReportService) ExportTreasury(ctx context.Context, filter models.PaymentFilter) ([]byte, error) {
	headers := []string{"Recibo", "Concepto", "Alumno", "DNI", "Monto", "Pagado", "Fecha de pago", "Notas"}
	var rows []map[string]string

	filter.Page = 1
	filter.PageSize = exportPageSize
	for {
		payments, total, err := s.payments.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments for export")
		}
		for _, p := range payments {
			receipt := ""
			if p.ReceiptNumber != nil {
				receipt = strconv.FormatInt(*p.ReceiptNumber, 10)
			}
			paidAt := ""
			if p.PaidAt != nil {
				paidAt = p.PaidAt.Format(time.RFC3339)
			}
			rows = append(rows, map[string]string{
				"Recibo":        receipt,
				"Concepto":      string(p.Concept),
				"Alumno":        p.StudentName,
				"DNI":           p.StudentDNI,
				"Monto":         fmt.Sprintf("%.2f", p.Amount),
				"Pagado":        strconv.FormatBool(p.Paid),
				"Fecha de pago": paidAt,
				"Notas":         p.Notes,
			})
		}
		if filter.Page*filter.PageSize >= total || len(payments) == 0 {
			break
		}
		filter.Page++
	}

	payload, err := s.exporter.Render(export.Dataset{Headers: headers, Rows: rows})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render treasury export")
	}
	return payload, nil
}

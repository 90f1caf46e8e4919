package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/colegio-digital/enrollment-api/internal/models"
	"github.com/colegio-digital/enrollment-api/internal/repository"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
)

type paymentRepository interface {
	Create(ctx context.Context, payment *models.PaymentRecord) error
	FindByID(ctx context.Context, id string) (*models.PaymentRecord, error)
	Update(ctx context.Context, payment *models.PaymentRecord) error
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.PaymentRecord, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, int, error)
	InsuranceReport(ctx context.Context, cycle string) ([]models.InsuranceEntry, error)
	Totals(ctx context.Context, cycle string) (map[models.PaymentConcept]float64, error)
}

type paymentEnrollmentReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
}

// RecordPaymentRequest creates a treasury row for an enrollment.
type RecordPaymentRequest struct {
	EnrollmentID string                `json:"enrollment_id" validate:"required"`
	Concept      models.PaymentConcept `json:"concept" validate:"required"`
	Amount       float64               `json:"amount" validate:"required,gt=0"`
	Paid         bool                  `json:"paid"`
	Notes        string                `json:"notes"`
}

// UpdatePaymentRequest amends an existing treasury row.
type UpdatePaymentRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Paid   bool    `json:"paid"`
	Notes  string  `json:"notes"`
}

// PaymentService is the treasury ledger. Receipt numbers come from a
// database sequence the moment a row is first marked paid and are never
// reissued afterwards.
type PaymentService struct {
	repo        paymentRepository
	enrollments paymentEnrollmentReader
	audit       auditWriter
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(repo paymentRepository, enrollments paymentEnrollmentReader, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{repo: repo, enrollments: enrollments, audit: audit, validator: validate, logger: logger}
}

// Record creates a payment row against an approved enrollment. The
// student name and document are snapshotted onto the row so treasury
// history survives a later enrollment deletion.
func (s *PaymentService) Record(ctx context.Context, req RecordPaymentRequest, actor *models.User) (*models.PaymentRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.Concept.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "concept must be MATRICULA or SEGURO")
	}

	enrollment, err := s.enrollments.FindDetailByID(ctx, req.EnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "payments can only be recorded for approved enrollments")
	}

	payment := &models.PaymentRecord{
		EnrollmentID: &enrollment.ID,
		Concept:      req.Concept,
		Amount:       req.Amount,
		Paid:         req.Paid,
		Notes:        req.Notes,
		StudentName:  fmt.Sprintf("%s, %s", enrollment.StudentLastName, enrollment.StudentFirstName),
		StudentDNI:   enrollment.StudentDNI,
	}
	if req.Paid {
		now := time.Now().UTC()
		payment.PaidAt = &now
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrDuplicateConcept) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a payment for this concept already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}

	s.writeAudit(ctx, actor, models.AuditActionPaymentRecord, payment.ID, map[string]interface{}{
		"enrollment_id": req.EnrollmentID,
		"concept":       req.Concept,
		"amount":        req.Amount,
		"paid":          req.Paid,
	})
	return payment, nil
}

// Update amends amount, paid flag and notes. Marking an unpaid row paid
// stamps the paid timestamp and draws a receipt number; unmarking keeps
// the receipt number so it is never reused.
func (s *PaymentService) Update(ctx context.Context, id string, req UpdatePaymentRequest, actor *models.User) (*models.PaymentRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}

	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}

	payment.Amount = req.Amount
	payment.Notes = req.Notes
	if req.Paid && !payment.Paid {
		now := time.Now().UTC()
		payment.PaidAt = &now
	}
	if !req.Paid {
		payment.PaidAt = nil
	}
	payment.Paid = req.Paid

	if err := s.repo.Update(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update payment")
	}

	s.writeAudit(ctx, actor, models.AuditActionPaymentUpdate, payment.ID, map[string]interface{}{
		"amount": req.Amount,
		"paid":   req.Paid,
	})
	return payment, nil
}

// ListByEnrollment returns every treasury row tied to one enrollment.
func (s *PaymentService) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.PaymentRecord, error) {
	payments, err := s.repo.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, nil
}

// List returns the treasury view with filters and pagination metadata.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	if filter.Concept != "" && !filter.Concept.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "concept must be MATRICULA or SEGURO")
	}

	payments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// InsuranceReport lists every approved enrollment of a cycle with its
// insurance payment state, paid or not.
func (s *PaymentService) InsuranceReport(ctx context.Context, cycle string) ([]models.InsuranceEntry, error) {
	if cycle == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cycle is required")
	}
	entries, err := s.repo.InsuranceReport(ctx, cycle)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build insurance report")
	}
	return entries, nil
}

// Totals sums paid amounts per concept for one cycle.
func (s *PaymentService) Totals(ctx context.Context, cycle string) (map[models.PaymentConcept]float64, error) {
	if cycle == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cycle is required")
	}
	totals, err := s.repo.Totals(ctx, cycle)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute totals")
	}
	return totals, nil
}

func (s *PaymentService) writeAudit(ctx context.Context, actor *models.User, action, resourceID string, values map[string]interface{}) {
	var userID *string
	if actor != nil {
		userID = &actor.ID
	}
	payload, _ := json.Marshal(values)
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "payments",
		ResourceID: &resourceID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record payment audit log", zap.Error(err))
	}
}

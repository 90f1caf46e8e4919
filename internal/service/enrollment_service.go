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
	"github.com/colegio-digital/enrollment-api/pkg/config"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	FindAggregateByID(ctx context.Context, id string) (*models.EnrollmentAggregate, error)
	ExistsForCycle(ctx context.Context, dni, cycle string, includeRejected bool) (bool, error)
	CreateAggregate(ctx context.Context, draft models.EnrollmentDraft) (*models.Enrollment, error)
	UpdateAggregate(ctx context.Context, id string, draft models.EnrollmentDraft) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, reason string, reviewedBy string, reviewedAt time.Time) error
	DeleteAggregate(ctx context.Context, id string, cascadePayments bool) error
}

type levelReader interface {
	FindLevel(ctx context.Context, code string) (*models.EducationLevel, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SetStatusRequest describes a status transition payload.
type SetStatusRequest struct {
	Status models.EnrollmentStatus `json:"status" validate:"required"`
	Reason string                  `json:"reason"`
}

// EnrollmentService turns accumulated drafts into durable enrollment
// aggregates and drives the pending/approved/rejected state machine.
type EnrollmentService struct {
	repo      enrollmentRepository
	levels    levelReader
	audit     auditWriter
	cfg       config.EnrollmentConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, levels levelReader, audit auditWriter, cfg config.EnrollmentConfig, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, levels: levels, audit: audit, cfg: cfg, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Get loads the full aggregate for a detail view.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentAggregate, error) {
	aggregate, err := s.repo.FindAggregateByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return aggregate, nil
}

// CheckDuplicate reports whether the student identified by DNI already
// filed for the cycle. Whether rejected filings count is configured, not
// inferred.
func (s *EnrollmentService) CheckDuplicate(ctx context.Context, dni, cycle string) (bool, error) {
	if dni == "" || cycle == "" {
		return false, appErrors.Clone(appErrors.ErrValidation, "dni and cycle are required")
	}
	exists, err := s.repo.ExistsForCycle(ctx, dni, cycle, s.cfg.DuplicateIncludesRejected)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check duplicate")
	}
	return exists, nil
}

// Submit validates a complete draft and persists it atomically. Nothing
// is written when any precondition fails, so re-submitting after a
// failure is always safe.
func (s *EnrollmentService) Submit(ctx context.Context, draft models.EnrollmentDraft) (*models.Enrollment, error) {
	if draft.EnrollmentDetails.Cycle == "" {
		draft.EnrollmentDetails.Cycle = s.cfg.ActiveCycle
	}
	if err := s.validateDraft(ctx, draft); err != nil {
		return nil, err
	}

	duplicate, err := s.repo.ExistsForCycle(ctx, draft.Student.DNI, draft.EnrollmentDetails.Cycle, s.cfg.DuplicateIncludesRejected)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check duplicate")
	}
	if duplicate {
		return nil, appErrors.ErrDuplicateEnrollment
	}

	enrollment, err := s.repo.CreateAggregate(ctx, draft)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateCycle) {
			return nil, appErrors.ErrDuplicateEnrollment
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist enrollment")
	}

	s.writeAudit(ctx, nil, models.AuditActionEnrollmentSubmit, enrollment.ID, map[string]interface{}{
		"dni":   draft.Student.DNI,
		"cycle": enrollment.Cycle,
		"level": enrollment.LevelCode,
	})
	return enrollment, nil
}

// Update rewrites an existing enrollment's aggregate. The duplicate
// cycle invariant is not re-checked: the filing already exists.
func (s *EnrollmentService) Update(ctx context.Context, id string, draft models.EnrollmentDraft, actor *models.User) error {
	if draft.EnrollmentDetails.Cycle == "" {
		draft.EnrollmentDetails.Cycle = s.cfg.ActiveCycle
	}
	if err := s.validateDraft(ctx, draft); err != nil {
		return err
	}

	if err := s.repo.UpdateAggregate(ctx, id, draft); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}

	s.writeAudit(ctx, actor, models.AuditActionEnrollmentUpdate, id, map[string]interface{}{
		"dni": draft.Student.DNI,
	})
	return nil
}

// SetStatus applies a state transition. Rejection demands a reason;
// approval demands none. The reviewing principal and instant are stamped
// on the row for audit attribution.
func (s *EnrollmentService) SetStatus(ctx context.Context, id string, req SetStatusRequest, actor *models.User) (*models.EnrollmentDetail, error) {
	if !req.Status.Valid() || req.Status == models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be APPROVED or REJECTED")
	}
	if req.Status == models.EnrollmentStatusRejected && req.Reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a reason is required to reject an enrollment")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !enrollment.Status.CanTransitionTo(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot transition from %s to %s", enrollment.Status, req.Status))
	}

	reason := req.Reason
	if req.Status == models.EnrollmentStatusApproved {
		reason = ""
	}
	now := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, req.Status, reason, actor.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update status")
	}

	s.writeAudit(ctx, actor, models.AuditActionEnrollmentStatus, id, map[string]interface{}{
		"from":   enrollment.Status,
		"to":     req.Status,
		"reason": reason,
	})

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload enrollment")
	}
	return detail, nil
}

// Delete hard-deletes the aggregate. Detached payment rows stay
// queryable for treasury history unless cascadePayments is set.
func (s *EnrollmentService) Delete(ctx context.Context, id string, cascadePayments bool, actor *models.User) error {
	if err := s.repo.DeleteAggregate(ctx, id, cascadePayments); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}

	s.writeAudit(ctx, actor, models.AuditActionEnrollmentDelete, id, map[string]interface{}{
		"cascade_payments": cascadePayments,
	})
	return nil
}

func (s *EnrollmentService) validateDraft(ctx context.Context, draft models.EnrollmentDraft) error {
	if err := s.validator.Struct(draft); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "incomplete enrollment draft")
	}
	if !draft.Student.Address.Complete() {
		return appErrors.Clone(appErrors.ErrValidation, "student address is incomplete")
	}
	for _, g := range draft.Guardians {
		if g.SharesStudentAddress {
			continue
		}
		if g.Address == nil || !g.Address.Complete() {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("guardian %s %s must declare a complete address", g.FirstName, g.LastName))
		}
	}
	if _, err := s.levels.FindLevel(ctx, draft.EnrollmentDetails.LevelCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "unknown education level code")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate level code")
	}
	return nil
}

func (s *EnrollmentService) writeAudit(ctx context.Context, actor *models.User, action, resourceID string, values map[string]interface{}) {
	var userID *string
	if actor != nil {
		userID = &actor.ID
	}
	payload, _ := json.Marshal(values)
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "enrollments",
		ResourceID: &resourceID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record enrollment audit log", zap.Error(err))
	}
}

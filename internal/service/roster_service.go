package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/colegio-digital/enrollment-api/internal/models"
	"github.com/colegio-digital/enrollment-api/internal/repository"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
)

type sectionRepository interface {
	Create(ctx context.Context, section *models.CourseSection) error
	FindByID(ctx context.Context, id string) (*models.CourseSection, error)
	List(ctx context.Context, levelCode string) ([]models.SectionSummary, error)
	CountEnrollments(ctx context.Context, sectionID string) (int, error)
	BulkAssign(ctx context.Context, enrollmentIDs []string, sectionID string) error
	UpdateAssignment(ctx context.Context, enrollmentID string, sectionID *string) error
	MoveAll(ctx context.Context, fromSectionID, toSectionID string) (int, error)
	DeleteRoster(ctx context.Context, sectionID string) (int, error)
	Delete(ctx context.Context, id string) error
	Roster(ctx context.Context, sectionID string) ([]models.EnrollmentDetail, error)
}

type rosterEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListUnassigned(ctx context.Context, filter models.UnassignedFilter) ([]models.EnrollmentDetail, error)
}

type sectionScopeChecker interface {
	RequireScopeOverSection(ctx context.Context, profile *models.User, sectionID string) error
}

// CreateSectionRequest describes section creation.
type CreateSectionRequest struct {
	LevelCode string              `json:"level_code" validate:"required"`
	Division  string              `json:"division" validate:"required"`
	Shift     models.SectionShift `json:"shift" validate:"required"`
	Label     string              `json:"label"`
}

// BulkAssignRequest assigns a batch of enrollments to one section.
type BulkAssignRequest struct {
	EnrollmentIDs []string `json:"enrollment_ids" validate:"required,min=1"`
	SectionID     string   `json:"section_id" validate:"required"`
}

// ClearSectionRequest resolves a section's roster before deletion.
type ClearSectionRequest struct {
	Strategy        models.ClearStrategy `json:"strategy" validate:"required"`
	TargetSectionID string               `json:"target_section_id"`
}

// RosterService manages the many-to-one relationship between approved
// enrollments and course sections. Every operation that touches a
// specific section consults the scope predicate first; moves check both
// the source and the destination.
type RosterService struct {
	sections    sectionRepository
	enrollments rosterEnrollmentReader
	access      sectionScopeChecker
	audit       auditWriter
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewRosterService constructs RosterService.
func NewRosterService(sections sectionRepository, enrollments rosterEnrollmentReader, access sectionScopeChecker, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *RosterService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{sections: sections, enrollments: enrollments, access: access, audit: audit, validator: validate, logger: logger}
}

// DeriveSectionLabel builds the deterministic display label for a
// section. The cycle family comes from the stable CB/CS marker at the
// end of the level code, never from the level's display name.
func DeriveSectionLabel(levelCode, division string, shift models.SectionShift) (string, error) {
	var family models.LevelFamily
	switch {
	case strings.HasSuffix(levelCode, string(models.LevelFamilyBasic)):
		family = models.LevelFamilyBasic
	case strings.HasSuffix(levelCode, string(models.LevelFamilyUpper)):
		family = models.LevelFamilyUpper
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "level code is missing its cycle marker")
	}

	year := strings.TrimSuffix(levelCode, string(family))
	if year == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "level code is missing its year")
	}

	var shiftMarker string
	switch shift {
	case models.ShiftMorning:
		shiftMarker = "TM"
	case models.ShiftAfternoon:
		shiftMarker = "TT"
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown shift")
	}

	return fmt.Sprintf("%s° %s° %s - %s", year, division, family, shiftMarker), nil
}

// ListUnassigned returns approved, unassigned enrollments for a level.
// The age filter is derived from the birth date at query time.
func (s *RosterService) ListUnassigned(ctx context.Context, filter models.UnassignedFilter) ([]models.EnrollmentDetail, error) {
	if filter.LevelCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "level code is required")
	}
	enrollments, err := s.enrollments.ListUnassigned(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list unassigned enrollments")
	}
	if filter.Age == nil {
		return enrollments, nil
	}

	now := time.Now().UTC()
	filtered := make([]models.EnrollmentDetail, 0, len(enrollments))
	for _, e := range enrollments {
		student := models.Student{BirthDate: e.StudentBirthDate}
		if student.Age(now) == *filter.Age {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// BulkAssign places every listed enrollment into the section, all or
// nothing. An empty list is rejected outright.
func (s *RosterService) BulkAssign(ctx context.Context, req BulkAssignRequest, actor *models.User) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk assignment payload")
	}
	if err := s.access.RequireScopeOverSection(ctx, actor, req.SectionID); err != nil {
		return err
	}
	if _, err := s.sections.FindByID(ctx, req.SectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course section not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	if err := s.sections.BulkAssign(ctx, req.EnrollmentIDs, req.SectionID); err != nil {
		if errors.Is(err, repository.ErrBulkAssignMismatch) {
			return appErrors.Clone(appErrors.ErrConflict, "every enrollment must exist, be approved and be unassigned")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign enrollments")
	}

	s.writeAudit(ctx, actor, models.AuditActionSectionAssign, req.SectionID, map[string]interface{}{
		"enrollment_ids": req.EnrollmentIDs,
	})
	return nil
}

// Move reassigns one enrollment between sections, checking scope on both
// ends.
func (s *RosterService) Move(ctx context.Context, enrollmentID, toSectionID string, actor *models.User) error {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusApproved {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "only approved enrollments can be assigned")
	}
	if enrollment.SectionID != nil {
		if err := s.access.RequireScopeOverSection(ctx, actor, *enrollment.SectionID); err != nil {
			return err
		}
	}
	if err := s.access.RequireScopeOverSection(ctx, actor, toSectionID); err != nil {
		return err
	}
	if _, err := s.sections.FindByID(ctx, toSectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "target section not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target section")
	}

	if err := s.sections.UpdateAssignment(ctx, enrollmentID, &toSectionID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to move enrollment")
	}
	return nil
}

// Remove clears an enrollment's section assignment.
func (s *RosterService) Remove(ctx context.Context, enrollmentID string, actor *models.User) error {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.SectionID == nil {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment has no section assignment")
	}
	if err := s.access.RequireScopeOverSection(ctx, actor, *enrollment.SectionID); err != nil {
		return err
	}

	if err := s.sections.UpdateAssignment(ctx, enrollmentID, nil); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear assignment")
	}
	return nil
}

// MoveAll reassigns an entire roster from one section to another.
func (s *RosterService) MoveAll(ctx context.Context, fromSectionID, toSectionID string, actor *models.User) (int, error) {
	if fromSectionID == toSectionID {
		return 0, appErrors.Clone(appErrors.ErrValidation, "source and target sections are the same")
	}
	if err := s.access.RequireScopeOverSection(ctx, actor, fromSectionID); err != nil {
		return 0, err
	}
	if err := s.access.RequireScopeOverSection(ctx, actor, toSectionID); err != nil {
		return 0, err
	}
	for _, id := range []string{fromSectionID, toSectionID} {
		if _, err := s.sections.FindByID(ctx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, appErrors.Clone(appErrors.ErrNotFound, "course section not found")
			}
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
		}
	}

	moved, err := s.sections.MoveAll(ctx, fromSectionID, toSectionID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to move roster")
	}
	return moved, nil
}

// ClearSection resolves a section's roster with exactly one strategy:
// move everyone to a target section, or delete every enrollment in it
// outright.
func (s *RosterService) ClearSection(ctx context.Context, sectionID string, req ClearSectionRequest, actor *models.User) (int, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid clear payload")
	}

	var resolved int
	switch req.Strategy {
	case models.ClearStrategyMove:
		if req.TargetSectionID == "" {
			return 0, appErrors.Clone(appErrors.ErrValidation, "move strategy requires a target section")
		}
		moved, err := s.MoveAll(ctx, sectionID, req.TargetSectionID, actor)
		if err != nil {
			return 0, err
		}
		resolved = moved
	case models.ClearStrategyDelete:
		if err := s.access.RequireScopeOverSection(ctx, actor, sectionID); err != nil {
			return 0, err
		}
		deleted, err := s.sections.DeleteRoster(ctx, sectionID)
		if err != nil {
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete roster")
		}
		resolved = deleted
	default:
		return 0, appErrors.Clone(appErrors.ErrValidation, "strategy must be move or delete")
	}

	s.writeAudit(ctx, actor, models.AuditActionSectionClear, sectionID, map[string]interface{}{
		"strategy": req.Strategy,
		"resolved": resolved,
		"target":   req.TargetSectionID,
	})
	return resolved, nil
}

// CreateSection creates a classroom unit, deriving the label when none
// is given.
func (s *RosterService) CreateSection(ctx context.Context, req CreateSectionRequest, actor *models.User) (*models.CourseSection, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}
	if !req.Shift.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "shift must be Mañana or Tarde")
	}

	label := req.Label
	if label == "" {
		derived, err := DeriveSectionLabel(req.LevelCode, req.Division, req.Shift)
		if err != nil {
			return nil, err
		}
		label = derived
	}

	section := &models.CourseSection{
		LevelCode: req.LevelCode,
		Division:  req.Division,
		Shift:     req.Shift,
		Label:     label,
	}
	if err := s.sections.Create(ctx, section); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create section")
	}
	return section, nil
}

// DeleteSection removes an empty section. A nonzero roster yields a
// Conflict; the count and delete run inside one transaction in the
// repository so no assignment can land in between.
func (s *RosterService) DeleteSection(ctx context.Context, id string, actor *models.User) error {
	if err := s.sections.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrSectionHasStudents) {
			return appErrors.ErrSectionNotEmpty
		}
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course section not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete section")
	}

	s.writeAudit(ctx, actor, models.AuditActionSectionDelete, id, nil)
	return nil
}

// ListSections returns sections with their roster sizes.
func (s *RosterService) ListSections(ctx context.Context, levelCode string) ([]models.SectionSummary, error) {
	sections, err := s.sections.List(ctx, levelCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
	}
	return sections, nil
}

// Roster returns the enrollments of one section, scope-checked. The
// scope check runs before any existence lookup so an out-of-scope caller
// cannot probe for sections.
func (s *RosterService) Roster(ctx context.Context, sectionID string, actor *models.User) ([]models.EnrollmentDetail, error) {
	if err := s.access.RequireScopeOverSection(ctx, actor, sectionID); err != nil {
		return nil, err
	}
	if _, err := s.sections.FindByID(ctx, sectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	roster, err := s.sections.Roster(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return roster, nil
}

func (s *RosterService) writeAudit(ctx context.Context, actor *models.User, action, resourceID string, values map[string]interface{}) {
	var userID *string
	if actor != nil {
		userID = &actor.ID
	}
	payload, _ := json.Marshal(values)
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "course_sections",
		ResourceID: &resourceID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record roster audit log", zap.Error(err))
	}
}

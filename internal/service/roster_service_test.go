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

type mockSectionRepo struct {
	sections   map[string]*models.CourseSection
	assigned   map[string]*string
	bulkErr    error
	deleteErr  error
	moved      int
	rosterSize int
	deleted    []string
}

func (m *mockSectionRepo) Create(ctx context.Context, section *models.CourseSection) error {
	section.ID = "s-new"
	if m.sections == nil {
		m.sections = make(map[string]*models.CourseSection)
	}
	m.sections[section.ID] = section
	return nil
}

func (m *mockSectionRepo) FindByID(ctx context.Context, id string) (*models.CourseSection, error) {
	if s, ok := m.sections[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSectionRepo) List(ctx context.Context, levelCode string) ([]models.SectionSummary, error) {
	return nil, nil
}

func (m *mockSectionRepo) CountEnrollments(ctx context.Context, sectionID string) (int, error) {
	return m.rosterSize, nil
}

func (m *mockSectionRepo) BulkAssign(ctx context.Context, enrollmentIDs []string, sectionID string) error {
	if m.bulkErr != nil {
		return m.bulkErr
	}
	if m.assigned == nil {
		m.assigned = make(map[string]*string)
	}
	for _, id := range enrollmentIDs {
		sid := sectionID
		m.assigned[id] = &sid
	}
	return nil
}

func (m *mockSectionRepo) UpdateAssignment(ctx context.Context, enrollmentID string, sectionID *string) error {
	if m.assigned == nil {
		m.assigned = make(map[string]*string)
	}
	m.assigned[enrollmentID] = sectionID
	return nil
}

func (m *mockSectionRepo) MoveAll(ctx context.Context, fromSectionID, toSectionID string) (int, error) {
	return m.moved, nil
}

func (m *mockSectionRepo) DeleteRoster(ctx context.Context, sectionID string) (int, error) {
	return m.rosterSize, nil
}

func (m *mockSectionRepo) Delete(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.sections[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.sections, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockSectionRepo) Roster(ctx context.Context, sectionID string) ([]models.EnrollmentDetail, error) {
	return []models.EnrollmentDetail{}, nil
}

type mockRosterReader struct {
	enrollments map[string]*models.Enrollment
	unassigned  []models.EnrollmentDetail
}

func (m *mockRosterReader) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRosterReader) ListUnassigned(ctx context.Context, filter models.UnassignedFilter) ([]models.EnrollmentDetail, error) {
	return m.unassigned, nil
}

type mockScopeChecker struct {
	allowed map[string]bool
}

func (m *mockScopeChecker) RequireScopeOverSection(ctx context.Context, profile *models.User, sectionID string) error {
	if profile != nil && profile.Role == models.RoleAdmin {
		return nil
	}
	if m.allowed[sectionID] {
		return nil
	}
	return appErrors.ErrForbidden
}

func sectionFixtures(ids ...string) map[string]*models.CourseSection {
	out := make(map[string]*models.CourseSection, len(ids))
	for _, id := range ids {
		out[id] = &models.CourseSection{ID: id, LevelCode: "1CB", Division: "1", Shift: models.ShiftMorning}
	}
	return out
}

func newRosterService(sections *mockSectionRepo, reader *mockRosterReader, scope *mockScopeChecker) *RosterService {
	return NewRosterService(sections, reader, scope, &mockAuditWriter{}, nil, nil)
}

func admin() *models.User     { return &models.User{ID: "u-admin", Role: models.RoleAdmin} }
func preceptor() *models.User { return &models.User{ID: "u-prec", Role: models.RolePreceptor} }

func TestDeriveSectionLabel(t *testing.T) {
	cases := []struct {
		levelCode string
		division  string
		shift     models.SectionShift
		want      string
	}{
		{"1CB", "1", models.ShiftMorning, "1° 1° CB - TM"},
		{"1CB", "1", models.ShiftAfternoon, "1° 1° CB - TT"},
		{"4CS", "2", models.ShiftMorning, "4° 2° CS - TM"},
		{"6CS", "3", models.ShiftAfternoon, "6° 3° CS - TT"},
	}
	for _, tc := range cases {
		label, err := DeriveSectionLabel(tc.levelCode, tc.division, tc.shift)
		require.NoError(t, err)
		assert.Equal(t, tc.want, label)
	}
}

func TestDeriveSectionLabelRejectsBadInput(t *testing.T) {
	_, err := DeriveSectionLabel("1XX", "1", models.ShiftMorning)
	require.Error(t, err)

	_, err = DeriveSectionLabel("CB", "1", models.ShiftMorning)
	require.Error(t, err)

	_, err = DeriveSectionLabel("1CB", "1", models.SectionShift("Noche"))
	require.Error(t, err)
}

func TestCreateSectionDerivesLabel(t *testing.T) {
	repo := &mockSectionRepo{}
	svc := newRosterService(repo, &mockRosterReader{}, &mockScopeChecker{})

	section, err := svc.CreateSection(context.Background(), CreateSectionRequest{
		LevelCode: "1CB",
		Division:  "1",
		Shift:     models.ShiftMorning,
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, "1° 1° CB - TM", section.Label)

	section, err = svc.CreateSection(context.Background(), CreateSectionRequest{
		LevelCode: "1CB",
		Division:  "2",
		Shift:     models.ShiftAfternoon,
		Label:     "custom",
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, "custom", section.Label)
}

func TestBulkAssign(t *testing.T) {
	repo := &mockSectionRepo{sections: sectionFixtures("s1")}
	svc := newRosterService(repo, &mockRosterReader{}, &mockScopeChecker{})

	err := svc.BulkAssign(context.Background(), BulkAssignRequest{
		EnrollmentIDs: []string{"e1", "e2"},
		SectionID:     "s1",
	}, admin())
	require.NoError(t, err)
	assert.Len(t, repo.assigned, 2)
}

func TestBulkAssignEmptyList(t *testing.T) {
	svc := newRosterService(&mockSectionRepo{}, &mockRosterReader{}, &mockScopeChecker{})

	err := svc.BulkAssign(context.Background(), BulkAssignRequest{SectionID: "s1"}, admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestBulkAssignMismatch(t *testing.T) {
	repo := &mockSectionRepo{
		sections: sectionFixtures("s1"),
		bulkErr:  repository.ErrBulkAssignMismatch,
	}
	svc := newRosterService(repo, &mockRosterReader{}, &mockScopeChecker{})

	err := svc.BulkAssign(context.Background(), BulkAssignRequest{
		EnrollmentIDs: []string{"e1", "e-gone"},
		SectionID:     "s1",
	}, admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.assigned)
}

func TestBulkAssignOutOfScope(t *testing.T) {
	repo := &mockSectionRepo{sections: sectionFixtures("s1")}
	svc := newRosterService(repo, &mockRosterReader{}, &mockScopeChecker{})

	err := svc.BulkAssign(context.Background(), BulkAssignRequest{
		EnrollmentIDs: []string{"e1"},
		SectionID:     "s1",
	}, preceptor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestMoveRequiresApproved(t *testing.T) {
	reader := &mockRosterReader{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusPending},
	}}
	svc := newRosterService(&mockSectionRepo{sections: sectionFixtures("s1")}, reader, &mockScopeChecker{})

	err := svc.Move(context.Background(), "e1", "s1", admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestMoveChecksBothSections(t *testing.T) {
	from := "s-from"
	reader := &mockRosterReader{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusApproved, SectionID: &from},
	}}
	repo := &mockSectionRepo{sections: sectionFixtures("s-from", "s-to")}

	// Preceptor scoped only to the destination cannot pull from a foreign
	// section.
	scope := &mockScopeChecker{allowed: map[string]bool{"s-to": true}}
	svc := newRosterService(repo, reader, scope)
	err := svc.Move(context.Background(), "e1", "s-to", preceptor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	scope.allowed["s-from"] = true
	require.NoError(t, svc.Move(context.Background(), "e1", "s-to", preceptor()))
	require.NotNil(t, repo.assigned["e1"])
	assert.Equal(t, "s-to", *repo.assigned["e1"])
}

func TestRemoveWithoutAssignment(t *testing.T) {
	reader := &mockRosterReader{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusApproved},
	}}
	svc := newRosterService(&mockSectionRepo{}, reader, &mockScopeChecker{})

	err := svc.Remove(context.Background(), "e1", admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestClearSectionMoveStrategy(t *testing.T) {
	repo := &mockSectionRepo{sections: sectionFixtures("s1", "s2"), moved: 7}
	svc := newRosterService(repo, &mockRosterReader{}, &mockScopeChecker{})

	resolved, err := svc.ClearSection(context.Background(), "s1", ClearSectionRequest{
		Strategy:        models.ClearStrategyMove,
		TargetSectionID: "s2",
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, 7, resolved)

	_, err = svc.ClearSection(context.Background(), "s1", ClearSectionRequest{
		Strategy: models.ClearStrategyMove,
	}, admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestClearSectionDeleteStrategy(t *testing.T) {
	repo := &mockSectionRepo{sections: sectionFixtures("s1"), rosterSize: 4}
	svc := newRosterService(repo, &mockRosterReader{}, &mockScopeChecker{})

	resolved, err := svc.ClearSection(context.Background(), "s1", ClearSectionRequest{
		Strategy: models.ClearStrategyDelete,
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, 4, resolved)
}

func TestMoveAllSameSection(t *testing.T) {
	svc := newRosterService(&mockSectionRepo{sections: sectionFixtures("s1")}, &mockRosterReader{}, &mockScopeChecker{})

	_, err := svc.MoveAll(context.Background(), "s1", "s1", admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDeleteSectionNotEmpty(t *testing.T) {
	repo := &mockSectionRepo{
		sections:  sectionFixtures("s1"),
		deleteErr: repository.ErrSectionHasStudents,
	}
	svc := newRosterService(repo, &mockRosterReader{}, &mockScopeChecker{})

	err := svc.DeleteSection(context.Background(), "s1", admin())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSectionNotEmpty.Code, appErrors.FromError(err).Code)
}

func TestDeleteSectionEmpty(t *testing.T) {
	repo := &mockSectionRepo{sections: sectionFixtures("s1")}
	svc := newRosterService(repo, &mockRosterReader{}, &mockScopeChecker{})

	require.NoError(t, svc.DeleteSection(context.Background(), "s1", admin()))
	assert.Equal(t, []string{"s1"}, repo.deleted)
}

func TestRosterScopeDeniedBeforeLookup(t *testing.T) {
	// An out-of-scope preceptor gets access denied even for sections that
	// do not exist, so the roster endpoint cannot be used to probe.
	svc := newRosterService(&mockSectionRepo{}, &mockRosterReader{}, &mockScopeChecker{})

	_, err := svc.Roster(context.Background(), "s-missing", preceptor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestListUnassignedAgeFilter(t *testing.T) {
	now := time.Now().UTC()
	reader := &mockRosterReader{unassigned: []models.EnrollmentDetail{
		{Enrollment: models.Enrollment{ID: "e1"}, StudentBirthDate: now.AddDate(-12, 0, -30)},
		{Enrollment: models.Enrollment{ID: "e2"}, StudentBirthDate: now.AddDate(-13, 0, -30)},
		{Enrollment: models.Enrollment{ID: "e3"}, StudentBirthDate: now.AddDate(-12, -2, 0)},
	}}
	svc := newRosterService(&mockSectionRepo{}, reader, &mockScopeChecker{})

	age := 12
	got, err := svc.ListUnassigned(context.Background(), models.UnassignedFilter{LevelCode: "1CB", Age: &age})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "e3", got[1].ID)

	_, err = svc.ListUnassigned(context.Background(), models.UnassignedFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

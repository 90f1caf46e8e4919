package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/colegio-digital/enrollment-api/internal/models"
	"github.com/colegio-digital/enrollment-api/internal/repository"
	"github.com/colegio-digital/enrollment-api/pkg/config"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments map[string]*models.Enrollment
	aggregates  map[string]*models.EnrollmentAggregate
	existing    map[string]bool
	createErr   error
	created     []models.EnrollmentDraft
	statusSets  []models.EnrollmentStatus
	deleted     []string
}

func existsKey(dni, cycle string) string { return dni + "/" + cycle }

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: *e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindAggregateByID(ctx context.Context, id string) (*models.EnrollmentAggregate, error) {
	if a, ok := m.aggregates[id]; ok {
		return a, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ExistsForCycle(ctx context.Context, dni, cycle string, includeRejected bool) (bool, error) {
	return m.existing[existsKey(dni, cycle)], nil
}

func (m *mockEnrollmentRepo) CreateAggregate(ctx context.Context, draft models.EnrollmentDraft) (*models.Enrollment, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, draft)
	if m.enrollments == nil {
		m.enrollments = make(map[string]*models.Enrollment)
	}
	enrollment := &models.Enrollment{
		ID:        "e1",
		Cycle:     draft.EnrollmentDetails.Cycle,
		LevelCode: draft.EnrollmentDetails.LevelCode,
		Status:    models.EnrollmentStatusPending,
	}
	m.enrollments[enrollment.ID] = enrollment
	return enrollment, nil
}

func (m *mockEnrollmentRepo) UpdateAggregate(ctx context.Context, id string, draft models.EnrollmentDraft) error {
	if _, ok := m.enrollments[id]; !ok {
		return sql.ErrNoRows
	}
	return nil
}

func (m *mockEnrollmentRepo) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, reason string, reviewedBy string, reviewedAt time.Time) error {
	e, ok := m.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = status
	e.StatusReason = reason
	m.statusSets = append(m.statusSets, status)
	return nil
}

func (m *mockEnrollmentRepo) DeleteAggregate(ctx context.Context, id string, cascadePayments bool) error {
	if _, ok := m.enrollments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.enrollments, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockLevelReader struct {
	levels map[string]string
}

func (m *mockLevelReader) FindLevel(ctx context.Context, code string) (*models.EducationLevel, error) {
	if name, ok := m.levels[code]; ok {
		return &models.EducationLevel{Code: code, Name: name}, nil
	}
	return nil, sql.ErrNoRows
}

type mockAuditWriter struct {
	logs []models.AuditLog
}

func (m *mockAuditWriter) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

func knownLevels() *mockLevelReader {
	return &mockLevelReader{levels: map[string]string{"1CB": "Primer año", "4CS": "Cuarto año"}}
}

func validDraft() models.EnrollmentDraft {
	return models.EnrollmentDraft{
		Student: models.StudentDraft{
			DNI:       "45000123",
			FirstName: "Lucía",
			LastName:  "Pérez",
			BirthDate: time.Date(2013, 3, 14, 0, 0, 0, 0, time.UTC),
			Gender:    "F",
			Address: models.Address{
				Street:       "San Martín",
				Number:       "742",
				ProvinceID:   "p1",
				DepartmentID: "d1",
				LocalityID:   "l1",
			},
		},
		Guardians: []models.GuardianDraft{
			{
				DNI:                  "20123456",
				FirstName:            "Marta",
				LastName:             "Pérez",
				Relationship:         models.RelationshipMother,
				SharesStudentAddress: true,
			},
		},
		HealthRecord: models.HealthRecordDraft{VaccinationComplete: true},
		EnrollmentDetails: models.DetailsDraft{
			Cycle:     "2026",
			LevelCode: "1CB",
		},
	}
}

func newEnrollmentService(repo *mockEnrollmentRepo, audit *mockAuditWriter) *EnrollmentService {
	cfg := config.EnrollmentConfig{ActiveCycle: "2026", DuplicateIncludesRejected: true}
	return NewEnrollmentService(repo, knownLevels(), audit, cfg, validator.New(), zap.NewNop())
}

func TestEnrollmentSubmit(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	audit := &mockAuditWriter{}
	svc := newEnrollmentService(repo, audit)

	enrollment, err := svc.Submit(context.Background(), validDraft())
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.Equal(t, "2026", enrollment.Cycle)
	assert.Len(t, repo.created, 1)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionEnrollmentSubmit, audit.logs[0].Action)
	assert.Nil(t, audit.logs[0].UserID)
}

func TestEnrollmentSubmitDefaultsCycle(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := newEnrollmentService(repo, &mockAuditWriter{})

	draft := validDraft()
	draft.EnrollmentDetails.Cycle = ""
	enrollment, err := svc.Submit(context.Background(), draft)
	require.NoError(t, err)
	assert.Equal(t, "2026", enrollment.Cycle)
}

func TestEnrollmentSubmitDuplicate(t *testing.T) {
	repo := &mockEnrollmentRepo{existing: map[string]bool{existsKey("45000123", "2026"): true}}
	svc := newEnrollmentService(repo, &mockAuditWriter{})

	_, err := svc.Submit(context.Background(), validDraft())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErr.Code)
	assert.Empty(t, repo.created)
}

func TestEnrollmentSubmitDuplicateRace(t *testing.T) {
	// Pre-check passes but the partial unique index fires at commit.
	repo := &mockEnrollmentRepo{createErr: repository.ErrDuplicateCycle}
	svc := newEnrollmentService(repo, &mockAuditWriter{})

	_, err := svc.Submit(context.Background(), validDraft())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentSubmitGuardianAddressRequired(t *testing.T) {
	svc := newEnrollmentService(&mockEnrollmentRepo{}, &mockAuditWriter{})

	draft := validDraft()
	draft.Guardians[0].SharesStudentAddress = false
	draft.Guardians[0].Address = &models.Address{Street: "Belgrano"}
	_, err := svc.Submit(context.Background(), draft)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentSubmitNoGuardians(t *testing.T) {
	svc := newEnrollmentService(&mockEnrollmentRepo{}, &mockAuditWriter{})

	draft := validDraft()
	draft.Guardians = nil
	_, err := svc.Submit(context.Background(), draft)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentSubmitUnknownLevel(t *testing.T) {
	svc := newEnrollmentService(&mockEnrollmentRepo{}, &mockAuditWriter{})

	draft := validDraft()
	draft.EnrollmentDetails.LevelCode = "9ZZ"
	_, err := svc.Submit(context.Background(), draft)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentSetStatusApprove(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusPending, StatusReason: ""},
	}}
	audit := &mockAuditWriter{}
	svc := newEnrollmentService(repo, audit)
	actor := &models.User{ID: "u1", Role: models.RoleAdmin}

	detail, err := svc.SetStatus(context.Background(), "e1", SetStatusRequest{Status: models.EnrollmentStatusApproved}, actor)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusApproved, detail.Status)
	assert.Empty(t, detail.StatusReason)
}

func TestEnrollmentSetStatusRejectRequiresReason(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusPending},
	}}
	svc := newEnrollmentService(repo, &mockAuditWriter{})
	actor := &models.User{ID: "u1", Role: models.RoleAdmin}

	_, err := svc.SetStatus(context.Background(), "e1", SetStatusRequest{Status: models.EnrollmentStatusRejected}, actor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.statusSets)
}

func TestEnrollmentSetStatusCorrection(t *testing.T) {
	// An approval given by mistake can still be turned into a rejection.
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusApproved},
	}}
	svc := newEnrollmentService(repo, &mockAuditWriter{})
	actor := &models.User{ID: "u1", Role: models.RoleAdmin}

	detail, err := svc.SetStatus(context.Background(), "e1", SetStatusRequest{Status: models.EnrollmentStatusRejected, Reason: "missing documentation"}, actor)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusRejected, detail.Status)
	assert.Equal(t, "missing documentation", detail.StatusReason)
}

func TestEnrollmentSetStatusToPendingRejected(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusApproved},
	}}
	svc := newEnrollmentService(repo, &mockAuditWriter{})
	actor := &models.User{ID: "u1", Role: models.RoleAdmin}

	_, err := svc.SetStatus(context.Background(), "e1", SetStatusRequest{Status: models.EnrollmentStatusPending}, actor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentSetStatusRequiresActor(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusPending},
	}}
	svc := newEnrollmentService(repo, &mockAuditWriter{})

	_, err := svc.SetStatus(context.Background(), "e1", SetStatusRequest{Status: models.EnrollmentStatusApproved}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCheckDuplicateRequiresArgs(t *testing.T) {
	svc := newEnrollmentService(&mockEnrollmentRepo{}, &mockAuditWriter{})

	_, err := svc.CheckDuplicate(context.Background(), "", "2026")
	require.Error(t, err)

	dup, err := svc.CheckDuplicate(context.Background(), "45000123", "2026")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestEnrollmentDelete(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusApproved},
	}}
	audit := &mockAuditWriter{}
	svc := newEnrollmentService(repo, audit)
	actor := &models.User{ID: "u1", Role: models.RoleAdmin}

	require.NoError(t, svc.Delete(context.Background(), "e1", true, actor))
	assert.Equal(t, []string{"e1"}, repo.deleted)

	err := svc.Delete(context.Background(), "missing", false, actor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

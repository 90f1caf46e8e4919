package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/colegio-digital/enrollment-api/internal/models"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
)

type mockUserRepo struct {
	users       map[string]*models.User
	emailIndex  map[string]string
	assignments map[string][]models.SectionAssignment
	auditLogs   []*models.AuditLog
	deactivated []string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		users:       make(map[string]*models.User),
		emailIndex:  make(map[string]string),
		assignments: make(map[string][]models.SectionAssignment),
	}
}

func (m *mockUserRepo) add(user *models.User) {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if id, ok := m.emailIndex[email]; ok {
		return m.FindByID(ctx, id)
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	m.add(user)
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	if _, ok := m.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) Deactivate(ctx context.Context, id string) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Active = false
	m.deactivated = append(m.deactivated, id)
	return nil
}

func (m *mockUserRepo) ListSectionAssignments(ctx context.Context, userID string) ([]models.SectionAssignment, error) {
	return m.assignments[userID], nil
}

func (m *mockUserRepo) AssignSection(ctx context.Context, userID, sectionID string) error {
	m.assignments[userID] = append(m.assignments[userID], models.SectionAssignment{UserID: userID, SectionID: sectionID})
	return nil
}

func (m *mockUserRepo) UnassignSection(ctx context.Context, userID, sectionID string) error {
	kept := m.assignments[userID][:0]
	for _, a := range m.assignments[userID] {
		if a.SectionID != sectionID {
			kept = append(kept, a)
		}
	}
	m.assignments[userID] = kept
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockSectionFinder struct {
	sections map[string]*models.CourseSection
}

func (m *mockSectionFinder) FindByID(ctx context.Context, id string) (*models.CourseSection, error) {
	if s, ok := m.sections[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func newUserService(repo *mockUserRepo, sections *mockSectionFinder) *UserService {
	if sections == nil {
		sections = &mockSectionFinder{}
	}
	return NewUserService(repo, sections, nil, nil)
}

func TestUserCreate(t *testing.T) {
	repo := newMockUserRepo()
	svc := newUserService(repo, nil)

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "Preceptor@Colegio.edu.ar",
		FullName: "Jorge Díaz",
		Role:     models.RolePreceptor,
		Active:   true,
		Password: "secret123",
	}, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, "preceptor@colegio.edu.ar", user.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret123")))
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.auditLogs[0].Action)
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	repo := newMockUserRepo()
	repo.add(&models.User{ID: "u1", Email: "admin@colegio.edu.ar"})
	svc := newUserService(repo, nil)

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "admin@colegio.edu.ar",
		FullName: "Otro Admin",
		Role:     models.RoleAdmin,
		Password: "secret123",
	}, "actor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserCreateInvalidRole(t *testing.T) {
	svc := newUserService(newMockUserRepo(), nil)

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "x@colegio.edu.ar",
		FullName: "X",
		Role:     models.UserRole("DIRECTOR"),
		Password: "secret123",
	}, "actor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserUpdate(t *testing.T) {
	repo := newMockUserRepo()
	repo.add(&models.User{ID: "u1", Email: "p@colegio.edu.ar", FullName: "Jorge", Role: models.RolePreceptor, Active: true})
	svc := newUserService(repo, nil)

	inactive := false
	user, err := svc.Update(context.Background(), "u1", UpdateUserRequest{
		FullName: "Jorge Díaz",
		Role:     models.RoleAdmin,
		Active:   &inactive,
	}, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.False(t, user.Active)
	require.Len(t, repo.auditLogs, 1)
	assert.NotEmpty(t, repo.auditLogs[0].OldValues)
}

func TestUserDeactivate(t *testing.T) {
	repo := newMockUserRepo()
	repo.add(&models.User{ID: "u1", Email: "p@colegio.edu.ar", Active: true})
	svc := newUserService(repo, nil)

	require.NoError(t, svc.Deactivate(context.Background(), "u1", "actor-1"))
	assert.Equal(t, []string{"u1"}, repo.deactivated)

	err := svc.Deactivate(context.Background(), "missing", "actor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserAssignSection(t *testing.T) {
	repo := newMockUserRepo()
	repo.add(&models.User{ID: "u-prec", Email: "p@colegio.edu.ar", Role: models.RolePreceptor, Active: true})
	repo.add(&models.User{ID: "u-admin", Email: "a@colegio.edu.ar", Role: models.RoleAdmin, Active: true})
	sections := &mockSectionFinder{sections: map[string]*models.CourseSection{
		"s1": {ID: "s1", LevelCode: "1CB"},
	}}
	svc := newUserService(repo, sections)

	require.NoError(t, svc.AssignSection(context.Background(), "u-prec", "s1", "actor-1"))
	require.Len(t, repo.assignments["u-prec"], 1)

	// Scoping makes no sense for admins, who already see everything.
	err := svc.AssignSection(context.Background(), "u-admin", "s1", "actor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	err = svc.AssignSection(context.Background(), "u-prec", "s-missing", "actor-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.UnassignSection(context.Background(), "u-prec", "s1"))
	assert.Empty(t, repo.assignments["u-prec"])
}

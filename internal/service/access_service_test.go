package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colegio-digital/enrollment-api/internal/models"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
)

type mockAccessRepo struct {
	users       map[string]*models.User
	assignments map[string]map[string]bool
}

func (m *mockAccessRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccessRepo) HasSectionAssignment(ctx context.Context, userID, sectionID string) (bool, error) {
	return m.assignments[userID][sectionID], nil
}

func TestResolveProfile(t *testing.T) {
	repo := &mockAccessRepo{users: map[string]*models.User{
		"u1": {ID: "u1", Role: models.RoleAdmin, Active: true},
		"u2": {ID: "u2", Role: models.RolePreceptor, Active: false},
	}}
	svc := NewAccessService(repo, nil)

	user, err := svc.ResolveProfile(context.Background(), &models.JWTClaims{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)

	_, err = svc.ResolveProfile(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	_, err = svc.ResolveProfile(context.Background(), &models.JWTClaims{UserID: "missing"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	_, err = svc.ResolveProfile(context.Background(), &models.JWTClaims{UserID: "u2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestRequireRole(t *testing.T) {
	svc := NewAccessService(&mockAccessRepo{}, nil)
	adminUser := &models.User{ID: "u1", Role: models.RoleAdmin}

	_, err := svc.RequireRole(adminUser, models.RoleAdmin)
	require.NoError(t, err)

	_, err = svc.RequireRole(adminUser, models.RolePreceptor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.RequireRole(nil, models.RoleAdmin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestScopeOverSection(t *testing.T) {
	repo := &mockAccessRepo{assignments: map[string]map[string]bool{
		"u-prec": {"s1": true},
	}}
	svc := NewAccessService(repo, nil)

	adminUser := &models.User{ID: "u-admin", Role: models.RoleAdmin}
	precUser := &models.User{ID: "u-prec", Role: models.RolePreceptor}

	// Admins hold scope over every section without an assignment row.
	ok, err := svc.HasScopeOverSection(context.Background(), adminUser, "s-any")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasScopeOverSection(context.Background(), precUser, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasScopeOverSection(context.Background(), precUser, "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	err = svc.RequireScopeOverSection(context.Background(), precUser, "s2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = svc.RequireScopeOverSection(context.Background(), nil, "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/colegio-digital/enrollment-api/internal/models"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
)

type accessUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	HasSectionAssignment(ctx context.Context, userID, sectionID string) (bool, error)
}

// AccessService resolves the calling principal to a profile and answers
// every scope question. It is the single choke point consulted before
// any operation that touches a specific course section, and it fails
// closed: no session or no profile row means no access, never a default
// role. Scope denials are indistinguishable from missing resources so an
// unauthorized caller learns nothing beyond "access denied".
type AccessService struct {
	repo   accessUserRepository
	logger *zap.Logger
}

// NewAccessService constructs AccessService.
func NewAccessService(repo accessUserRepository, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{repo: repo, logger: logger}
}

// ResolveProfile maps validated JWT claims to the stored user profile.
func (s *AccessService) ResolveProfile(ctx context.Context, claims *models.JWTClaims) (*models.User, error) {
	if claims == nil || claims.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	user, err := s.repo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUnauthorized
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve profile")
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}
	return user, nil
}

// RequireRole returns the profile unchanged when it holds the role, or a
// hard authorization error otherwise.
func (s *AccessService) RequireRole(profile *models.User, role models.UserRole) (*models.User, error) {
	if profile == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if profile.Role != role {
		return nil, appErrors.ErrForbidden
	}
	return profile, nil
}

// RequireAnyAuthenticated accepts either role; used by operations valid
// for both consoles.
func (s *AccessService) RequireAnyAuthenticated(profile *models.User) (*models.User, error) {
	if profile == nil {
		return nil, appErrors.ErrUnauthorized
	}
	switch profile.Role {
	case models.RoleAdmin, models.RolePreceptor:
		return profile, nil
	}
	return nil, appErrors.ErrForbidden
}

// HasScopeOverSection reports whether the profile may operate on the
// section's roster. Admins always may; preceptors only through an
// assignment row.
func (s *AccessService) HasScopeOverSection(ctx context.Context, profile *models.User, sectionID string) (bool, error) {
	if profile == nil {
		return false, appErrors.ErrUnauthorized
	}
	if profile.Role == models.RoleAdmin {
		return true, nil
	}
	if profile.Role != models.RolePreceptor {
		return false, nil
	}
	assigned, err := s.repo.HasSectionAssignment(ctx, profile.ID, sectionID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check section scope")
	}
	return assigned, nil
}

// RequireScopeOverSection turns a negative scope answer into the generic
// forbidden error.
func (s *AccessService) RequireScopeOverSection(ctx context.Context, profile *models.User, sectionID string) error {
	ok, err := s.HasScopeOverSection(ctx, profile, sectionID)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.ErrForbidden
	}
	return nil
}

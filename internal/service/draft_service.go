package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/colegio-digital/enrollment-api/internal/models"
	"github.com/colegio-digital/enrollment-api/internal/repository"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
)

type draftStore interface {
	SaveSection(ctx context.Context, token, section string, payload json.RawMessage) error
	GetSection(ctx context.Context, token, section string) (json.RawMessage, error)
	GetAll(ctx context.Context, token string) (map[string]json.RawMessage, error)
	Clear(ctx context.Context, token string) error
}

// DraftService accumulates the public form's four sections under an
// opaque draft token so an applicant can close the browser and resume.
// Section payloads are stored as-is; nothing is validated until the
// draft is submitted to the lifecycle engine.
type DraftService struct {
	store  draftStore
	logger *zap.Logger
}

// NewDraftService constructs DraftService.
func NewDraftService(store draftStore, logger *zap.Logger) *DraftService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftService{store: store, logger: logger}
}

// Start issues a fresh draft token. Nothing is stored until the first
// section save.
func (s *DraftService) Start() string {
	return uuid.NewString()
}

// SaveSection stores one section payload under the token.
func (s *DraftService) SaveSection(ctx context.Context, token, section string, payload json.RawMessage) error {
	if token == "" {
		return appErrors.Clone(appErrors.ErrValidation, "draft token is required")
	}
	if !models.KnownDraftSection(section) {
		return appErrors.Clone(appErrors.ErrValidation, "unknown draft section")
	}
	if !json.Valid(payload) {
		return appErrors.Clone(appErrors.ErrValidation, "section payload must be valid JSON")
	}

	if err := s.store.SaveSection(ctx, token, section, payload); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save draft section")
	}
	return nil
}

// GetSection returns one stored section.
func (s *DraftService) GetSection(ctx context.Context, token, section string) (json.RawMessage, error) {
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "draft token is required")
	}
	if !models.KnownDraftSection(section) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown draft section")
	}

	payload, err := s.store.GetSection(ctx, token, section)
	if err != nil {
		if errors.Is(err, repository.ErrCacheMiss) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "draft section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load draft section")
	}
	return payload, nil
}

// GetAll returns every stored section of the draft. An unknown or
// expired token yields an empty map, not an error.
func (s *DraftService) GetAll(ctx context.Context, token string) (map[string]json.RawMessage, error) {
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "draft token is required")
	}

	sections, err := s.store.GetAll(ctx, token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load draft")
	}
	return sections, nil
}

// Clear drops the draft, typically after a successful submission.
func (s *DraftService) Clear(ctx context.Context, token string) error {
	if token == "" {
		return appErrors.Clone(appErrors.ErrValidation, "draft token is required")
	}
	if err := s.store.Clear(ctx, token); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear draft")
	}
	return nil
}

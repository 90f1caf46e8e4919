package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/colegio-digital/enrollment-api/internal/models"
	"github.com/colegio-digital/enrollment-api/internal/repository"
	appErrors "github.com/colegio-digital/enrollment-api/pkg/errors"
)

type catalogRepository interface {
	ListProvinces(ctx context.Context) ([]models.Province, error)
	ListDepartments(ctx context.Context, provinceID string) ([]models.Department, error)
	ListLocalities(ctx context.Context, departmentID string) ([]models.Locality, error)
	ListLevels(ctx context.Context) ([]models.EducationLevel, error)
	ListSourceSchools(ctx context.Context) ([]models.SourceSchool, error)
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CatalogService serves the read-only reference catalog through a
// cache-aside layer. Catalog rows change rarely, so a cache miss reads
// through to Postgres and a cache failure only costs latency, never
// correctness.
type CatalogService struct {
	repo   catalogRepository
	cache  catalogCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(repo catalogRepository, cache catalogCache, ttl time.Duration, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CatalogService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Provinces returns every province.
func (s *CatalogService) Provinces(ctx context.Context) ([]models.Province, error) {
	var provinces []models.Province
	err := s.cached(ctx, "catalog:provinces", &provinces, func() (interface{}, error) {
		return s.repo.ListProvinces(ctx)
	})
	return provinces, err
}

// Departments returns the departments of one province.
func (s *CatalogService) Departments(ctx context.Context, provinceID string) ([]models.Department, error) {
	if provinceID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "province id is required")
	}
	var departments []models.Department
	err := s.cached(ctx, "catalog:departments:"+provinceID, &departments, func() (interface{}, error) {
		return s.repo.ListDepartments(ctx, provinceID)
	})
	return departments, err
}

// Localities returns the localities of one department.
func (s *CatalogService) Localities(ctx context.Context, departmentID string) ([]models.Locality, error) {
	if departmentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "department id is required")
	}
	var localities []models.Locality
	err := s.cached(ctx, "catalog:localities:"+departmentID, &localities, func() (interface{}, error) {
		return s.repo.ListLocalities(ctx, departmentID)
	})
	return localities, err
}

// Levels returns every education level.
func (s *CatalogService) Levels(ctx context.Context) ([]models.EducationLevel, error) {
	var levels []models.EducationLevel
	err := s.cached(ctx, "catalog:levels", &levels, func() (interface{}, error) {
		return s.repo.ListLevels(ctx)
	})
	return levels, err
}

// SourceSchools returns the school-of-origin options.
func (s *CatalogService) SourceSchools(ctx context.Context) ([]models.SourceSchool, error) {
	var schools []models.SourceSchool
	err := s.cached(ctx, "catalog:source_schools", &schools, func() (interface{}, error) {
		return s.repo.ListSourceSchools(ctx)
	})
	return schools, err
}

// Invalidate drops every cached catalog payload. Called after catalog
// data is reseeded.
func (s *CatalogService) Invalidate(ctx context.Context) error {
	if err := s.cache.DeleteByPattern(ctx, "catalog:*"); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate catalog cache")
	}
	return nil
}

// cached fills dest from the cache, falling back to load on a miss and
// writing the result back. Cache write failures are logged and ignored.
func (s *CatalogService) cached(ctx context.Context, key string, dest interface{}, load func() (interface{}, error)) error {
	err := s.cache.Get(ctx, key, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		s.logger.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
	}

	value, err := load()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load catalog data")
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode catalog data")
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode catalog data")
	}

	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn(fmt.Sprintf("catalog cache write failed for %s", key), zap.Error(err))
	}
	return nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/colegio-digital/enrollment-api/internal/models"
)

// CatalogRepository reads the reference catalog: administrative
// hierarchy, education levels and source schools.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListProvinces returns every province ordered by name.
func (r *CatalogRepository) ListProvinces(ctx context.Context) ([]models.Province, error) {
	const query = `SELECT id, name FROM provinces ORDER BY name`
	var provinces []models.Province
	if err := r.db.SelectContext(ctx, &provinces, query); err != nil {
		return nil, fmt.Errorf("list provinces: %w", err)
	}
	return provinces, nil
}

// ListDepartments returns the departments of a province.
func (r *CatalogRepository) ListDepartments(ctx context.Context, provinceID string) ([]models.Department, error) {
	const query = `SELECT id, province_id, name FROM departments WHERE province_id = $1 ORDER BY name`
	var departments []models.Department
	if err := r.db.SelectContext(ctx, &departments, query, provinceID); err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return departments, nil
}

// ListLocalities returns the localities of a department.
func (r *CatalogRepository) ListLocalities(ctx context.Context, departmentID string) ([]models.Locality, error) {
	const query = `SELECT id, department_id, name FROM localities WHERE department_id = $1 ORDER BY name`
	var localities []models.Locality
	if err := r.db.SelectContext(ctx, &localities, query, departmentID); err != nil {
		return nil, fmt.Errorf("list localities: %w", err)
	}
	return localities, nil
}

// ListLevels returns every education level ordered by code.
func (r *CatalogRepository) ListLevels(ctx context.Context) ([]models.EducationLevel, error) {
	const query = `SELECT code, name FROM education_levels ORDER BY code`
	var levels []models.EducationLevel
	if err := r.db.SelectContext(ctx, &levels, query); err != nil {
		return nil, fmt.Errorf("list education levels: %w", err)
	}
	return levels, nil
}

// FindLevel returns one education level by code.
func (r *CatalogRepository) FindLevel(ctx context.Context, code string) (*models.EducationLevel, error) {
	const query = `SELECT code, name FROM education_levels WHERE code = $1`
	var level models.EducationLevel
	if err := r.db.GetContext(ctx, &level, query, code); err != nil {
		return nil, err
	}
	return &level, nil
}

// ListSourceSchools returns the school-of-origin options.
func (r *CatalogRepository) ListSourceSchools(ctx context.Context) ([]models.SourceSchool, error) {
	const query = `SELECT id, name, locality FROM source_schools ORDER BY name`
	var schools []models.SourceSchool
	if err := r.db.SelectContext(ctx, &schools, query); err != nil {
		return nil, fmt.Errorf("list source schools: %w", err)
	}
	return schools, nil
}

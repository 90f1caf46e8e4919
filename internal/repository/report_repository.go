package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/colegio-digital/enrollment-api/internal/models"
)

// ReportRepository runs the aggregate queries behind the admin dashboard.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// StatusCounts returns enrollment counts per status for one cycle.
func (r *ReportRepository) StatusCounts(ctx context.Context, cycle string) (map[models.EnrollmentStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS total FROM enrollments WHERE cycle = $1 GROUP BY status`
	rows := []struct {
		Status models.EnrollmentStatus `db:"status"`
		Total  int                     `db:"total"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, cycle); err != nil {
		return nil, fmt.Errorf("count enrollments by status: %w", err)
	}
	counts := make(map[models.EnrollmentStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// LevelCounts returns non-rejected enrollment counts per level for one cycle.
func (r *ReportRepository) LevelCounts(ctx context.Context, cycle string) (map[string]int, error) {
	const query = `
		SELECT level_code, COUNT(*) AS total
		FROM enrollments
		WHERE cycle = $1 AND status <> $2
		GROUP BY level_code`
	rows := []struct {
		LevelCode string `db:"level_code"`
		Total     int    `db:"total"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, cycle, models.EnrollmentStatusRejected); err != nil {
		return nil, fmt.Errorf("count enrollments by level: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.LevelCode] = row.Total
	}
	return counts, nil
}

// UnassignedCount returns how many approved enrollments of the cycle
// still lack a section.
func (r *ReportRepository) UnassignedCount(ctx context.Context, cycle string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM enrollments
		WHERE cycle = $1 AND status = $2 AND section_id IS NULL`
	var count int
	if err := r.db.GetContext(ctx, &count, query, cycle, models.EnrollmentStatusApproved); err != nil {
		return 0, fmt.Errorf("count unassigned enrollments: %w", err)
	}
	return count, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/colegio-digital/enrollment-api/internal/models"
)

// ErrSectionHasStudents is returned when a section delete finds a
// nonzero roster under lock.
var ErrSectionHasStudents = errors.New("course section still has enrolled students")

// ErrBulkAssignMismatch is returned when a bulk assignment references
// enrollments that are missing, not approved or already assigned.
var ErrBulkAssignMismatch = errors.New("bulk assignment targets are not all assignable")

// SectionRepository manages course sections and the roster assignments
// of approved enrollments. Every multi-row mutation runs inside one
// transaction so rosters are never partially applied.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

// Create persists a new course section.
func (r *SectionRepository) Create(ctx context.Context, section *models.CourseSection) error {
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	if section.CreatedAt.IsZero() {
		section.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO course_sections (id, level_code, division, shift, label, created_at)
VALUES (:id, :level_code, :division, :shift, :label, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, section); err != nil {
		return fmt.Errorf("create course section: %w", err)
	}
	return nil
}

// FindByID returns a section by identifier.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.CourseSection, error) {
	const query = `SELECT id, level_code, division, shift, label, created_at FROM course_sections WHERE id = $1`
	var section models.CourseSection
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// List returns all sections with their current roster sizes.
func (r *SectionRepository) List(ctx context.Context, levelCode string) ([]models.SectionSummary, error) {
	query := `SELECT cs.id, cs.level_code, cs.division, cs.shift, cs.label, cs.created_at,
        COUNT(e.id) AS student_count
        FROM course_sections cs
        LEFT JOIN enrollments e ON e.section_id = cs.id
        WHERE 1=1`
	var args []interface{}
	if levelCode != "" {
		query += " AND cs.level_code = $1"
		args = append(args, levelCode)
	}
	query += " GROUP BY cs.id ORDER BY cs.level_code, cs.division, cs.shift"

	var sections []models.SectionSummary
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, fmt.Errorf("list course sections: %w", err)
	}
	return sections, nil
}

// CountEnrollments returns the current roster size of a section.
func (r *SectionRepository) CountEnrollments(ctx context.Context, sectionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE section_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, sectionID); err != nil {
		return 0, fmt.Errorf("count section enrollments: %w", err)
	}
	return count, nil
}

// BulkAssign sets the section on every listed enrollment, all or
// nothing. Each target must exist, be approved and be unassigned; the
// rows are locked before the update so a partial roster can never land.
func (r *SectionRepository) BulkAssign(ctx context.Context, enrollmentIDs []string, sectionID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk assign: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var assignable int
	const lockQuery = `SELECT COUNT(*) FROM (
        SELECT id FROM enrollments
        WHERE id = ANY($1) AND status = $2 AND section_id IS NULL
        FOR UPDATE) locked`
	if err = tx.GetContext(ctx, &assignable, lockQuery, pq.Array(enrollmentIDs), models.EnrollmentStatusApproved); err != nil {
		return fmt.Errorf("lock bulk assign targets: %w", err)
	}
	if assignable != len(enrollmentIDs) {
		err = ErrBulkAssignMismatch
		return err
	}

	const update = `UPDATE enrollments SET section_id = $2, updated_at = $3 WHERE id = ANY($1)`
	if _, err = tx.ExecContext(ctx, update, pq.Array(enrollmentIDs), sectionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("bulk assign enrollments: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk assign: %w", err)
	}
	return nil
}

// UpdateAssignment moves one enrollment onto a section, or clears the
// assignment when sectionID is nil.
func (r *SectionRepository) UpdateAssignment(ctx context.Context, enrollmentID string, sectionID *string) error {
	const query = `UPDATE enrollments SET section_id = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, enrollmentID, sectionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update section assignment: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MoveAll reassigns every enrollment from one section to another in one
// statement.
func (r *SectionRepository) MoveAll(ctx context.Context, fromSectionID, toSectionID string) (int, error) {
	const query = `UPDATE enrollments SET section_id = $2, updated_at = $3 WHERE section_id = $1`
	result, err := r.db.ExecContext(ctx, query, fromSectionID, toSectionID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("move section roster: %w", err)
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count moved enrollments: %w", err)
	}
	return int(moved), nil
}

// DeleteRoster deletes every enrollment currently in the section,
// including their payment rows, guardian links, health records and
// addresses, in one transaction.
func (r *SectionRepository) DeleteRoster(ctx context.Context, sectionID string) (deleted int, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin roster delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	type rosterRow struct {
		ID             string `db:"id"`
		AddressID      string `db:"address_id"`
		HealthRecordID string `db:"health_record_id"`
	}
	var roster []rosterRow
	const lockQuery = `SELECT id, address_id, health_record_id FROM enrollments WHERE section_id = $1 FOR UPDATE`
	if err = tx.SelectContext(ctx, &roster, lockQuery, sectionID); err != nil {
		return 0, fmt.Errorf("lock section roster: %w", err)
	}

	for _, row := range roster {
		if _, err = tx.ExecContext(ctx, `DELETE FROM payments WHERE enrollment_id = $1`, row.ID); err != nil {
			return 0, fmt.Errorf("delete roster payments: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM guardian_links WHERE enrollment_id = $1`, row.ID); err != nil {
			return 0, fmt.Errorf("delete roster guardian links: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, row.ID); err != nil {
			return 0, fmt.Errorf("delete roster enrollment: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM health_records WHERE id = $1`, row.HealthRecordID); err != nil {
			return 0, fmt.Errorf("delete roster health record: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM addresses WHERE id = $1`, row.AddressID); err != nil {
			return 0, fmt.Errorf("delete roster address: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit roster delete: %w", err)
	}
	return len(roster), nil
}

// Delete removes a section when its roster is empty. The section row is
// locked and the roster counted inside the same transaction, so no
// assignment can land between the check and the delete.
func (r *SectionRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin section delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var lockedID string
	if err = tx.GetContext(ctx, &lockedID, `SELECT id FROM course_sections WHERE id = $1 FOR UPDATE`, id); err != nil {
		return err
	}

	var count int
	if err = tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM enrollments WHERE section_id = $1`, id); err != nil {
		return fmt.Errorf("count section roster: %w", err)
	}
	if count > 0 {
		err = ErrSectionHasStudents
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM section_assignments WHERE section_id = $1`, id); err != nil {
		return fmt.Errorf("delete section scopes: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM course_sections WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete course section: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit section delete: %w", err)
	}
	return nil
}

// Roster returns the enrollments currently assigned to the section.
func (r *SectionRepository) Roster(ctx context.Context, sectionID string) ([]models.EnrollmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE e.section_id = $1 ORDER BY s.last_name, s.first_name",
		enrollmentDetailColumns, enrollmentDetailJoins)
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, sectionID); err != nil {
		return nil, fmt.Errorf("list section roster: %w", err)
	}
	return enrollments, nil
}

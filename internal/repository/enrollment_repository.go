package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/colegio-digital/enrollment-api/internal/models"
)

// ErrDuplicateCycle is returned when the enrollments partial unique index
// on (student_id, cycle) rejects an insert. It backstops the application
// level duplicate pre-check against concurrent submissions.
var ErrDuplicateCycle = errors.New("enrollment already exists for student and cycle")

// EnrollmentRepository persists the enrollment aggregate: student,
// address, guardians, health record and the enrollment row itself are
// always written inside one transaction.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `e.id, e.student_id, e.address_id, e.health_record_id, e.cycle, e.level_code, e.section_id, e.source_school_id, e.repeat_year, e.pending_subjects, e.status, e.status_reason, e.reviewed_by, e.reviewed_at, e.created_at, e.updated_at`

const enrollmentDetailColumns = enrollmentColumns + `,
        s.first_name AS student_first_name, s.last_name AS student_last_name, s.dni AS student_dni,
        s.gender AS student_gender, s.birth_date AS student_birth_date, cs.label AS section_label`

const enrollmentDetailJoins = `FROM enrollments e
JOIN students s ON s.id = e.student_id
LEFT JOIN course_sections cs ON cs.id = e.section_id`

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Cycle != "" {
		conditions = append(conditions, fmt.Sprintf("e.cycle = $%d", len(args)+1))
		args = append(args, filter.Cycle)
	}
	if filter.LevelCode != "" {
		conditions = append(conditions, fmt.Sprintf("e.level_code = $%d", len(args)+1))
		args = append(args, filter.LevelCode)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.SectionID != "" {
		conditions = append(conditions, fmt.Sprintf("e.section_id = $%d", len(args)+1))
		args = append(args, filter.SectionID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.first_name || ' ' || s.last_name) LIKE $%d OR s.dni LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "e.created_at",
		"student_name": "s.last_name",
		"level_code":   "e.level_code",
		"status":       "e.status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s%s ORDER BY %s %s LIMIT %d OFFSET %d",
		enrollmentDetailColumns, enrollmentDetailJoins, clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", enrollmentDetailJoins, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments e WHERE e.id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with student and section context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE e.id = $1", enrollmentDetailColumns, enrollmentDetailJoins)
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindAggregateByID eager-loads the whole aggregate for a detail view.
func (r *EnrollmentRepository) FindAggregateByID(ctx context.Context, id string) (*models.EnrollmentAggregate, error) {
	enrollment, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	agg := &models.EnrollmentAggregate{Enrollment: *enrollment}

	const studentQuery = `SELECT id, dni, first_name, last_name, birth_date, nationality, gender, phone, email, created_at, updated_at FROM students WHERE id = $1`
	if err := r.db.GetContext(ctx, &agg.Student, studentQuery, enrollment.StudentID); err != nil {
		return nil, fmt.Errorf("load enrollment student: %w", err)
	}

	const addressQuery = `SELECT id, street, number, floor, apartment, province_id, department_id, locality_id FROM addresses WHERE id = $1`
	if err := r.db.GetContext(ctx, &agg.Address, addressQuery, enrollment.AddressID); err != nil {
		return nil, fmt.Errorf("load enrollment address: %w", err)
	}

	const healthQuery = `SELECT id, chronic_conditions, allergies, disability, medication, vaccination_complete, notes FROM health_records WHERE id = $1`
	if err := r.db.GetContext(ctx, &agg.HealthRecord, healthQuery, enrollment.HealthRecordID); err != nil {
		return nil, fmt.Errorf("load health record: %w", err)
	}

	const guardianQuery = `SELECT g.id, g.dni, g.first_name, g.last_name, g.phone, g.email, g.occupation, g.education_level, g.shares_student_address, g.address_id, g.created_at, gl.relationship
FROM guardian_links gl
JOIN guardians g ON g.id = gl.guardian_id
WHERE gl.enrollment_id = $1
ORDER BY g.last_name`
	rows, err := r.db.QueryxContext(ctx, guardianQuery, id)
	if err != nil {
		return nil, fmt.Errorf("load guardians: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var view models.GuardianView
		if err := rows.StructScan(&view); err != nil {
			return nil, fmt.Errorf("scan guardian: %w", err)
		}
		agg.Guardians = append(agg.Guardians, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guardians: %w", err)
	}

	return agg, nil
}

// ExistsForCycle checks whether the student identified by DNI already has
// an enrollment in the cycle. includeRejected widens the match to
// rejected filings.
func (r *EnrollmentRepository) ExistsForCycle(ctx context.Context, dni, cycle string, includeRejected bool) (bool, error) {
	query := `SELECT 1 FROM enrollments e JOIN students s ON s.id = e.student_id WHERE s.dni = $1 AND e.cycle = $2`
	args := []interface{}{dni, cycle}
	if !includeRejected {
		query += fmt.Sprintf(" AND e.status <> $%d", len(args)+1)
		args = append(args, models.EnrollmentStatusRejected)
	}
	query += " LIMIT 1"
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check duplicate enrollment: %w", err)
	}
	return true, nil
}

// CreateAggregate persists a complete enrollment in one transaction:
// address, student (reused by DNI when present), health record, the
// enrollment row and every guardian with its link. On any failure the
// whole attempt rolls back and no partial rows remain.
func (r *EnrollmentRepository) CreateAggregate(ctx context.Context, draft models.EnrollmentDraft) (enrollment *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enrollment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	studentID, err := upsertStudentTx(ctx, tx, draft.Student, now)
	if err != nil {
		return nil, err
	}

	addressID, err := insertAddressTx(ctx, tx, draft.Student.Address)
	if err != nil {
		return nil, err
	}

	healthID := uuid.NewString()
	const healthInsert = `INSERT INTO health_records (id, chronic_conditions, allergies, disability, medication, vaccination_complete, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err = tx.ExecContext(ctx, healthInsert, healthID,
		draft.HealthRecord.ChronicConditions, draft.HealthRecord.Allergies, draft.HealthRecord.Disability,
		draft.HealthRecord.Medication, draft.HealthRecord.VaccinationComplete, draft.HealthRecord.Notes); err != nil {
		return nil, fmt.Errorf("insert health record: %w", err)
	}

	enrollment = &models.Enrollment{
		ID:              uuid.NewString(),
		StudentID:       studentID,
		AddressID:       addressID,
		HealthRecordID:  healthID,
		Cycle:           draft.EnrollmentDetails.Cycle,
		LevelCode:       draft.EnrollmentDetails.LevelCode,
		SourceSchoolID:  draft.EnrollmentDetails.SourceSchoolID,
		RepeatYear:      draft.EnrollmentDetails.RepeatYear,
		PendingSubjects: draft.EnrollmentDetails.PendingSubjects,
		Status:          models.EnrollmentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	const enrollmentInsert = `INSERT INTO enrollments (id, student_id, address_id, health_record_id, cycle, level_code, section_id, source_school_id, repeat_year, pending_subjects, status, status_reason, reviewed_by, reviewed_at, created_at, updated_at)
VALUES (:id, :student_id, :address_id, :health_record_id, :cycle, :level_code, :section_id, :source_school_id, :repeat_year, :pending_subjects, :status, :status_reason, :reviewed_by, :reviewed_at, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, enrollmentInsert, enrollment); err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicateCycle
			return nil, err
		}
		return nil, fmt.Errorf("insert enrollment: %w", err)
	}

	if err = linkGuardiansTx(ctx, tx, enrollment.ID, draft.Guardians, now); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment: %w", err)
	}
	return enrollment, nil
}

// UpdateAggregate rewrites an existing enrollment's aggregate in one
// transaction. Guardian links are replaced wholesale; guardians are
// reused by DNI the same way submission reuses them.
func (r *EnrollmentRepository) UpdateAggregate(ctx context.Context, id string, draft models.EnrollmentDraft) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.Enrollment
	query := fmt.Sprintf(`SELECT %s FROM enrollments e WHERE e.id = $1 FOR UPDATE`, enrollmentColumns)
	if err = tx.GetContext(ctx, &current, query, id); err != nil {
		return err
	}

	now := time.Now().UTC()

	const studentUpdate = `UPDATE students SET first_name = $2, last_name = $3, birth_date = $4, nationality = $5, gender = $6, phone = $7, email = $8, updated_at = $9 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, studentUpdate, current.StudentID,
		draft.Student.FirstName, draft.Student.LastName, draft.Student.BirthDate,
		draft.Student.Nationality, draft.Student.Gender, draft.Student.Phone, draft.Student.Email, now); err != nil {
		return fmt.Errorf("update student: %w", err)
	}

	const addressUpdate = `UPDATE addresses SET street = $2, number = $3, floor = $4, apartment = $5, province_id = $6, department_id = $7, locality_id = $8 WHERE id = $1`
	a := draft.Student.Address
	if _, err = tx.ExecContext(ctx, addressUpdate, current.AddressID,
		a.Street, a.Number, a.Floor, a.Apartment, a.ProvinceID, a.DepartmentID, a.LocalityID); err != nil {
		return fmt.Errorf("update address: %w", err)
	}

	const healthUpdate = `UPDATE health_records SET chronic_conditions = $2, allergies = $3, disability = $4, medication = $5, vaccination_complete = $6, notes = $7 WHERE id = $1`
	h := draft.HealthRecord
	if _, err = tx.ExecContext(ctx, healthUpdate, current.HealthRecordID,
		h.ChronicConditions, h.Allergies, h.Disability, h.Medication, h.VaccinationComplete, h.Notes); err != nil {
		return fmt.Errorf("update health record: %w", err)
	}

	const enrollmentUpdate = `UPDATE enrollments SET level_code = $2, source_school_id = $3, repeat_year = $4, pending_subjects = $5, updated_at = $6 WHERE id = $1`
	d := draft.EnrollmentDetails
	if _, err = tx.ExecContext(ctx, enrollmentUpdate, id,
		d.LevelCode, d.SourceSchoolID, d.RepeatYear, d.PendingSubjects, now); err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM guardian_links WHERE enrollment_id = $1`, id); err != nil {
		return fmt.Errorf("clear guardian links: %w", err)
	}
	if err = linkGuardiansTx(ctx, tx, id, draft.Guardians, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment update: %w", err)
	}
	return nil
}

// UpdateStatus applies a status transition, stamping the reviewer.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, reason string, reviewedBy string, reviewedAt time.Time) error {
	const query = `UPDATE enrollments SET status = $2, status_reason = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $5 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status, reason, reviewedBy, reviewedAt)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteAggregate hard-deletes the enrollment with its guardian links,
// health record and address in one transaction. Payments are deleted
// when cascading, otherwise detached with their student snapshot intact.
func (r *EnrollmentRepository) DeleteAggregate(ctx context.Context, id string, cascadePayments bool) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.Enrollment
	query := fmt.Sprintf(`SELECT %s FROM enrollments e WHERE e.id = $1 FOR UPDATE`, enrollmentColumns)
	if err = tx.GetContext(ctx, &current, query, id); err != nil {
		return err
	}

	if cascadePayments {
		if _, err = tx.ExecContext(ctx, `DELETE FROM payments WHERE enrollment_id = $1`, id); err != nil {
			return fmt.Errorf("cascade payments: %w", err)
		}
	} else {
		if _, err = tx.ExecContext(ctx, `UPDATE payments SET enrollment_id = NULL, updated_at = $2 WHERE enrollment_id = $1`, id, time.Now().UTC()); err != nil {
			return fmt.Errorf("detach payments: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM guardian_links WHERE enrollment_id = $1`, id); err != nil {
		return fmt.Errorf("delete guardian links: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM health_records WHERE id = $1`, current.HealthRecordID); err != nil {
		return fmt.Errorf("delete health record: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM addresses WHERE id = $1`, current.AddressID); err != nil {
		return fmt.Errorf("delete address: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment delete: %w", err)
	}
	return nil
}

// ListUnassigned returns approved enrollments without a section for the
// level, filtered by the roster criteria. Age filtering is applied by the
// service from the birth date, never stored.
func (r *EnrollmentRepository) ListUnassigned(ctx context.Context, filter models.UnassignedFilter) ([]models.EnrollmentDetail, error) {
	conditions := []string{"e.status = $1", "e.section_id IS NULL", "e.level_code = $2"}
	args := []interface{}{models.EnrollmentStatusApproved, filter.LevelCode}

	if filter.Cycle != "" {
		conditions = append(conditions, fmt.Sprintf("e.cycle = $%d", len(args)+1))
		args = append(args, filter.Cycle)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.first_name || ' ' || s.last_name) LIKE $%d OR s.dni LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.Gender != "" {
		conditions = append(conditions, fmt.Sprintf("s.gender = $%d", len(args)+1))
		args = append(args, filter.Gender)
	}

	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY s.last_name, s.first_name",
		enrollmentDetailColumns, enrollmentDetailJoins, strings.Join(conditions, " AND "))

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list unassigned enrollments: %w", err)
	}
	return enrollments, nil
}

func upsertStudentTx(ctx context.Context, tx *sqlx.Tx, draft models.StudentDraft, now time.Time) (string, error) {
	var studentID string
	err := tx.GetContext(ctx, &studentID, `SELECT id FROM students WHERE dni = $1 FOR UPDATE`, draft.DNI)
	switch {
	case err == sql.ErrNoRows:
		studentID = uuid.NewString()
		const insert = `INSERT INTO students (id, dni, first_name, last_name, birth_date, nationality, gender, phone, email, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
		if _, err := tx.ExecContext(ctx, insert, studentID, draft.DNI, draft.FirstName, draft.LastName,
			draft.BirthDate, draft.Nationality, draft.Gender, draft.Phone, draft.Email, now); err != nil {
			return "", fmt.Errorf("insert student: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("find student by dni: %w", err)
	default:
		const update = `UPDATE students SET first_name = $2, last_name = $3, birth_date = $4, nationality = $5, gender = $6, phone = $7, email = $8, updated_at = $9 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, studentID, draft.FirstName, draft.LastName,
			draft.BirthDate, draft.Nationality, draft.Gender, draft.Phone, draft.Email, now); err != nil {
			return "", fmt.Errorf("refresh student: %w", err)
		}
	}
	return studentID, nil
}

func insertAddressTx(ctx context.Context, tx *sqlx.Tx, address models.Address) (string, error) {
	id := uuid.NewString()
	const query = `INSERT INTO addresses (id, street, number, floor, apartment, province_id, department_id, locality_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(ctx, query, id, address.Street, address.Number, address.Floor,
		address.Apartment, address.ProvinceID, address.DepartmentID, address.LocalityID); err != nil {
		return "", fmt.Errorf("insert address: %w", err)
	}
	return id, nil
}

func linkGuardiansTx(ctx context.Context, tx *sqlx.Tx, enrollmentID string, guardians []models.GuardianDraft, now time.Time) error {
	for _, g := range guardians {
		var addressID *string
		if !g.SharesStudentAddress && g.Address != nil {
			id, err := insertAddressTx(ctx, tx, *g.Address)
			if err != nil {
				return err
			}
			addressID = &id
		}

		var guardianID string
		err := tx.GetContext(ctx, &guardianID, `SELECT id FROM guardians WHERE dni = $1 FOR UPDATE`, g.DNI)
		switch {
		case err == sql.ErrNoRows:
			guardianID = uuid.NewString()
			const insert = `INSERT INTO guardians (id, dni, first_name, last_name, phone, email, occupation, education_level, shares_student_address, address_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
			if _, err := tx.ExecContext(ctx, insert, guardianID, g.DNI, g.FirstName, g.LastName,
				g.Phone, g.Email, g.Occupation, g.EducationLevel, g.SharesStudentAddress, addressID, now); err != nil {
				return fmt.Errorf("insert guardian: %w", err)
			}
		case err != nil:
			return fmt.Errorf("find guardian by dni: %w", err)
		default:
			const update = `UPDATE guardians SET first_name = $2, last_name = $3, phone = $4, email = $5, occupation = $6, education_level = $7, shares_student_address = $8, address_id = COALESCE($9, address_id) WHERE id = $1`
			if _, err := tx.ExecContext(ctx, update, guardianID, g.FirstName, g.LastName,
				g.Phone, g.Email, g.Occupation, g.EducationLevel, g.SharesStudentAddress, addressID); err != nil {
				return fmt.Errorf("refresh guardian: %w", err)
			}
		}

		const link = `INSERT INTO guardian_links (id, enrollment_id, guardian_id, relationship) VALUES ($1, $2, $3, $4)`
		if _, err := tx.ExecContext(ctx, link, uuid.NewString(), enrollmentID, guardianID, g.Relationship); err != nil {
			return fmt.Errorf("link guardian: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

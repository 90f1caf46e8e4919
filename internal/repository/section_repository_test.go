package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/colegio-digital/enrollment-api/internal/models"
)

func newSectionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSectionRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()

	repo := NewSectionRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_sections")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	section := &models.CourseSection{
		LevelCode: "1CB",
		Division:  "1",
		Shift:     models.ShiftMorning,
		Label:     "1° 1° CB - TM",
	}
	require.NoError(t, repo.Create(context.Background(), section))
	require.NotEmpty(t, section.ID)

	rows := sqlmock.NewRows([]string{"id", "level_code", "division", "shift", "label", "created_at"}).
		AddRow(section.ID, "1CB", "1", string(models.ShiftMorning), section.Label, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, level_code, division, shift, label, created_at FROM course_sections")).
		WithArgs(section.ID).
		WillReturnRows(rows)

	found, err := repo.FindByID(context.Background(), section.ID)
	require.NoError(t, err)
	require.Equal(t, "1° 1° CB - TM", found.Label)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryBulkAssign(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()

	repo := NewSectionRepository(db)
	ids := []string{"e1", "e2"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM (")).
		WithArgs(pq.Array(ids), string(models.EnrollmentStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET section_id = $2")).
		WithArgs(pq.Array(ids), "s1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.BulkAssign(context.Background(), ids, "s1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryBulkAssignMismatch(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()

	repo := NewSectionRepository(db)
	ids := []string{"e1", "e-gone"}

	// Only one of the two targets is assignable, so nothing is updated.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM (")).
		WithArgs(pq.Array(ids), string(models.EnrollmentStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.BulkAssign(context.Background(), ids, "s1")
	require.ErrorIs(t, err, ErrBulkAssignMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryDeleteEmpty(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()

	repo := NewSectionRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM course_sections WHERE id = $1 FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE section_id = $1")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM section_assignments")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_sections")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "s1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryDeleteNonEmpty(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()

	repo := NewSectionRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM course_sections WHERE id = $1 FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE section_id = $1")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(23))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "s1")
	require.ErrorIs(t, err, ErrSectionHasStudents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryMoveAll(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()

	repo := NewSectionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET section_id = $2")).
		WithArgs("s1", "s2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 17))

	moved, err := repo.MoveAll(context.Background(), "s1", "s2")
	require.NoError(t, err)
	require.Equal(t, 17, moved)
	require.NoError(t, mock.ExpectationsWereMet())
}

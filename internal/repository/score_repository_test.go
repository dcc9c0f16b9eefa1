package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var scoreRowColumns = []string{"id", "tenant_id", "student_id", "class_subject_id", "term_id", "assessment_type_id",
	"score", "max_score", "entered_by", "entered_at", "status", "class_id", "subject_id", "assessment_code"}

func TestScoreRepositoryListByClassTerm(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScoreRepository(db)

	rows := sqlmock.NewRows(scoreRowColumns).
		AddRow("se-1", "t1", "s1", "cs-math", "term-1", "at-ca1", 18.0, 20.0, "teacher", time.Now(), "pending", "jss1", "math", "CA1").
		AddRow("se-2", "t1", "s1", "cs-math", "term-1", "at-exam", 52.0, 60.0, "teacher", time.Now(), "verified", "jss1", "math", "EXAM")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE se.tenant_id = $1 AND se.term_id = $2 AND cs.class_id = $3")).
		WithArgs("t1", "term-1", "jss1").
		WillReturnRows(rows)

	entries, err := repo.ListByClassTerm(context.Background(), "t1", "term-1", "jss1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].IsExam())
	assert.True(t, entries[1].IsExam())
	assert.Equal(t, "math", entries[1].SubjectID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepositoryListByStudentAndOffering(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScoreRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("se.student_id = $2 AND se.term_id = $3 AND ($4 = '' OR cs.class_id = $4)")).
		WithArgs("t1", "s1", "term-1", "").
		WillReturnRows(sqlmock.NewRows(scoreRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("se.class_subject_id = $3")).
		WithArgs("t1", "term-1", "cs-math").
		WillReturnError(errors.New("connection reset"))

	entries, err := repo.ListByStudent(context.Background(), "t1", "s1", "term-1", "")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = repo.ListByOffering(context.Background(), "t1", "term-1", "cs-math")
	assert.ErrorContains(t, err, "list offering scores")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepositoryUpsertTakesSharedLock(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScoreRepository(db)
	scope := models.ResultScope{TenantID: "t1", TermID: "term-1", ClassID: "jss1"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_xact_lock_shared(hashtext($1))")).
		WithArgs("results:t1:term-1:jss1").
		WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO score_entries")).
		WithArgs(sqlmock.AnyArg(), "t1", "s1", "cs-math", "term-1", "at-exam", 55.0, 60.0, "teacher", sqlmock.AnyArg(), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entries := []models.ScoreEntry{{StudentID: "s1", ClassSubjectID: "cs-math", AssessmentTypeID: "at-exam", Score: 55, MaxScore: 60, EnteredBy: "teacher"}}
	require.NoError(t, repo.Upsert(context.Background(), scope, entries))
	assert.NotEmpty(t, entries[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepositoryUpsertRejectsWhileComputing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScoreRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("pg_try_advisory_xact_lock_shared")).
		WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(false))
	mock.ExpectRollback()

	err := repo.Upsert(context.Background(), models.ResultScope{TenantID: "t1", TermID: "term-1", ClassID: "jss1"},
		[]models.ScoreEntry{{StudentID: "s1", Score: 1, MaxScore: 10}})
	assert.True(t, errors.Is(err, appErrors.ErrResultsLocked))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryRepository(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDirectoryRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM class_enrollments WHERE tenant_id = $1 AND class_id = $2 AND status = 'ACTIVE'")).
		WithArgs("t1", "jss1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("s1").AddRow("s2"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, tenant_id, class_id, subject_id FROM class_subjects")).
		WithArgs("t1", "jss1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "class_id", "subject_id"}).AddRow("cs-1", "t1", "jss1", "math"))

	students, err := repo.StudentsInClass(context.Background(), "t1", "jss1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, students)

	subjects, err := repo.SubjectsInClass(context.Background(), "t1", "jss1")
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "math", subjects[0].SubjectID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradingSchemeRepositoryReplace(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradingSchemeRepository(db)

	rules := []models.GradeRule{
		{MinScore: 50, MaxScore: 100, Grade: "P", Remark: "Pass", Points: 1},
		{MinScore: 0, MaxScore: 49, Grade: "F", Remark: "Fail", Points: 0},
	}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM grading_rules WHERE tenant_id = $1")).WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 9))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grading_rules")).WithArgs("t1", 50, 100, "P", "Pass", 1.0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grading_rules")).WithArgs("t1", 0, 49, "F", "Fail", 0.0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Replace(context.Background(), "t1", rules))

	mock.ExpectQuery(regexp.QuoteMeta("FROM grading_rules WHERE tenant_id = $1 ORDER BY min_score DESC")).
		WithArgs("t2").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "min_score", "max_score", "grade", "remark", "points"}))
	empty, err := repo.ListByTenant(context.Background(), "t2")
	require.NoError(t, err)
	assert.Empty(t, empty)
	require.NoError(t, mock.ExpectationsWereMet())
}

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

	"github.com/noah-isme/sma-results-api/internal/models"
	"github.com/noah-isme/sma-results-api/pkg/database"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

const snapshotColumns = `id, tenant_id, student_id, term_id, class_id, subject_id, ca_total, exam_score, total_score, grade, remark, points,
class_average, highest_score, lowest_score, position, status, computed_at, published_at`

const termResultColumns = `id, tenant_id, student_id, term_id, class_id, total_score, total_obtainable, average, points_average, total_subjects,
position, grade, promotion_status, teacher_remark, total_students, status, computed_at, published_at`

// Upserts only touch a row when a computed value changed, so recomputing unchanged input
// leaves computed_at and every other column as they were.
const upsertSnapshot = `INSERT INTO result_snapshots (id, tenant_id, student_id, term_id, class_id, subject_id, ca_total, exam_score, total_score, grade, remark, points,
class_average, highest_score, lowest_score, position, status, computed_at)
VALUES (:id, :tenant_id, :student_id, :term_id, :class_id, :subject_id, :ca_total, :exam_score, :total_score, :grade, :remark, :points,
:class_average, :highest_score, :lowest_score, :position, :status, :computed_at)
ON CONFLICT (tenant_id, student_id, term_id, subject_id) DO UPDATE SET
class_id = EXCLUDED.class_id, ca_total = EXCLUDED.ca_total, exam_score = EXCLUDED.exam_score, total_score = EXCLUDED.total_score,
grade = EXCLUDED.grade, remark = EXCLUDED.remark, points = EXCLUDED.points, class_average = EXCLUDED.class_average,
highest_score = EXCLUDED.highest_score, lowest_score = EXCLUDED.lowest_score, position = EXCLUDED.position,
status = EXCLUDED.status, computed_at = EXCLUDED.computed_at, published_at = NULL
WHERE (result_snapshots.class_id, result_snapshots.ca_total, result_snapshots.exam_score, result_snapshots.total_score,
result_snapshots.grade, result_snapshots.remark, result_snapshots.points, result_snapshots.class_average,
result_snapshots.highest_score, result_snapshots.lowest_score, result_snapshots.position, result_snapshots.status)
IS DISTINCT FROM (EXCLUDED.class_id, EXCLUDED.ca_total, EXCLUDED.exam_score, EXCLUDED.total_score, EXCLUDED.grade, EXCLUDED.remark,
EXCLUDED.points, EXCLUDED.class_average, EXCLUDED.highest_score, EXCLUDED.lowest_score, EXCLUDED.position, EXCLUDED.status)`

const upsertTermResult = `INSERT INTO term_results (id, tenant_id, student_id, term_id, class_id, total_score, total_obtainable, average, points_average,
total_subjects, position, grade, promotion_status, teacher_remark, total_students, status, computed_at)
VALUES (:id, :tenant_id, :student_id, :term_id, :class_id, :total_score, :total_obtainable, :average, :points_average,
:total_subjects, :position, :grade, :promotion_status, :teacher_remark, :total_students, :status, :computed_at)
ON CONFLICT (tenant_id, student_id, term_id) DO UPDATE SET
class_id = EXCLUDED.class_id, total_score = EXCLUDED.total_score, total_obtainable = EXCLUDED.total_obtainable,
average = EXCLUDED.average, points_average = EXCLUDED.points_average, total_subjects = EXCLUDED.total_subjects,
position = EXCLUDED.position, grade = EXCLUDED.grade, promotion_status = EXCLUDED.promotion_status,
teacher_remark = EXCLUDED.teacher_remark, total_students = EXCLUDED.total_students, status = EXCLUDED.status,
computed_at = EXCLUDED.computed_at, published_at = NULL
WHERE (term_results.class_id, term_results.total_score, term_results.total_obtainable, term_results.average,
term_results.points_average, term_results.total_subjects, term_results.position, term_results.grade,
term_results.promotion_status, term_results.teacher_remark, term_results.total_students, term_results.status)
IS DISTINCT FROM (EXCLUDED.class_id, EXCLUDED.total_score, EXCLUDED.total_obtainable, EXCLUDED.average, EXCLUDED.points_average,
EXCLUDED.total_subjects, EXCLUDED.position, EXCLUDED.grade, EXCLUDED.promotion_status, EXCLUDED.teacher_remark,
EXCLUDED.total_students, EXCLUDED.status)`

// ResultRepository persists subject snapshots and term aggregates.
type ResultRepository struct {
	db *sqlx.DB
}

// NewResultRepository constructs a ResultRepository.
func NewResultRepository(db *sqlx.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// LockClass takes the exclusive session advisory lock for a class result set without waiting.
// The returned func releases it.
func (r *ResultRepository) LockClass(ctx context.Context, scope models.ResultScope) (func(), error) {
	conn, err := r.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	key := classLockKey(scope)
	var locked bool
	if err := conn.GetContext(ctx, &locked, `SELECT pg_try_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("lock class results: %w", err)
	}
	if !locked {
		conn.Close()
		return nil, appErrors.ErrResultsLocked
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, key)
		conn.Close()
	}, nil
}

// CountByStatus counts term results of a class in the given status.
func (r *ResultRepository) CountByStatus(ctx context.Context, scope models.ResultScope, status models.ResultStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM term_results WHERE tenant_id = $1 AND term_id = $2 AND class_id = $3 AND status = $4`
	var count int
	if err := r.db.GetContext(ctx, &count, query, scope.TenantID, scope.TermID, scope.ClassID, status); err != nil {
		return 0, fmt.Errorf("count term results: %w", err)
	}
	return count, nil
}

// SaveStudentResult upserts a student's snapshots and term aggregate in one transaction and
// drops snapshots for subjects the student no longer has scores in.
func (r *ResultRepository) SaveStudentResult(ctx context.Context, snapshots []models.ResultSnapshot, term *models.TermResult, computedAt time.Time) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for i := range snapshots {
			snap := &snapshots[i]
			if snap.ID == "" {
				snap.ID = uuid.NewString()
			}
			snap.ComputedAt = computedAt
			if _, err := tx.NamedExecContext(ctx, upsertSnapshot, snap); err != nil {
				return fmt.Errorf("upsert result snapshot %s: %w", snap.SubjectID, err)
			}
		}
		if term.ID == "" {
			term.ID = uuid.NewString()
		}
		term.ComputedAt = computedAt
		if _, err := tx.NamedExecContext(ctx, upsertTermResult, term); err != nil {
			return fmt.Errorf("upsert term result: %w", err)
		}
		subjects := make([]string, 0, len(snapshots))
		for _, snap := range snapshots {
			subjects = append(subjects, snap.SubjectID)
		}
		const deleteStale = `DELETE FROM result_snapshots
WHERE tenant_id = $1 AND student_id = $2 AND term_id = $3 AND NOT (subject_id = ANY($4))`
		if _, err := tx.ExecContext(ctx, deleteStale, term.TenantID, term.StudentID, term.TermID, pq.Array(subjects)); err != nil {
			return fmt.Errorf("delete stale result snapshots: %w", err)
		}
		return nil
	})
}

// ClearStudentResult removes a student's stored results for a class and term, used when
// the student no longer has any scores to compute from.
func (r *ResultRepository) ClearStudentResult(ctx context.Context, scope models.ResultScope, studentID string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const deleteSnapshots = `DELETE FROM result_snapshots WHERE tenant_id = $1 AND term_id = $2 AND class_id = $3 AND student_id = $4`
		if _, err := tx.ExecContext(ctx, deleteSnapshots, scope.TenantID, scope.TermID, scope.ClassID, studentID); err != nil {
			return fmt.Errorf("delete result snapshots: %w", err)
		}
		const deleteTerm = `DELETE FROM term_results WHERE tenant_id = $1 AND term_id = $2 AND class_id = $3 AND student_id = $4`
		if _, err := tx.ExecContext(ctx, deleteTerm, scope.TenantID, scope.TermID, scope.ClassID, studentID); err != nil {
			return fmt.Errorf("delete term result: %w", err)
		}
		return nil
	})
}

// ListTermResults returns a class's term results ordered by position.
func (r *ResultRepository) ListTermResults(ctx context.Context, scope models.ResultScope) ([]models.TermResult, error) {
	query := `SELECT ` + termResultColumns + ` FROM term_results
WHERE tenant_id = $1 AND term_id = $2 AND class_id = $3 ORDER BY position, student_id`
	var results []models.TermResult
	if err := r.db.SelectContext(ctx, &results, query, scope.TenantID, scope.TermID, scope.ClassID); err != nil {
		return nil, fmt.Errorf("list term results: %w", err)
	}
	return results, nil
}

// ListSnapshots returns every subject snapshot of a class.
func (r *ResultRepository) ListSnapshots(ctx context.Context, scope models.ResultScope) ([]models.ResultSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM result_snapshots
WHERE tenant_id = $1 AND term_id = $2 AND class_id = $3 ORDER BY student_id, subject_id`
	var snaps []models.ResultSnapshot
	if err := r.db.SelectContext(ctx, &snaps, query, scope.TenantID, scope.TermID, scope.ClassID); err != nil {
		return nil, fmt.Errorf("list result snapshots: %w", err)
	}
	return snaps, nil
}

// GetStudentTermResult fetches one student's aggregate for a term.
func (r *ResultRepository) GetStudentTermResult(ctx context.Context, tenantID, studentID, termID string) (*models.TermResult, error) {
	query := `SELECT ` + termResultColumns + ` FROM term_results WHERE tenant_id = $1 AND student_id = $2 AND term_id = $3`
	var result models.TermResult
	if err := r.db.GetContext(ctx, &result, query, tenantID, studentID, termID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term result not found")
		}
		return nil, fmt.Errorf("get term result: %w", err)
	}
	return &result, nil
}

// ListStudentSnapshots fetches one student's subject snapshots for a term.
func (r *ResultRepository) ListStudentSnapshots(ctx context.Context, tenantID, studentID, termID string) ([]models.ResultSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM result_snapshots
WHERE tenant_id = $1 AND student_id = $2 AND term_id = $3 ORDER BY subject_id`
	var snaps []models.ResultSnapshot
	if err := r.db.SelectContext(ctx, &snaps, query, tenantID, studentID, termID); err != nil {
		return nil, fmt.Errorf("list student snapshots: %w", err)
	}
	return snaps, nil
}

// Publish moves computed results of a class to published and returns the affected students.
func (r *ResultRepository) Publish(ctx context.Context, scope models.ResultScope, at time.Time) ([]string, error) {
	return r.transition(ctx, scope, models.ResultStatusComputed, models.ResultStatusPublished, &at, appErrors.ErrNoComputedResults)
}

// Unpublish reverts published results of a class to computed.
func (r *ResultRepository) Unpublish(ctx context.Context, scope models.ResultScope) ([]string, error) {
	return r.transition(ctx, scope, models.ResultStatusPublished, models.ResultStatusComputed, nil, appErrors.ErrNoPublishedResults)
}

func (r *ResultRepository) transition(ctx context.Context, scope models.ResultScope, from, to models.ResultStatus, at *time.Time, none *appErrors.Error) ([]string, error) {
	var students []string
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var locked bool
		if err := tx.GetContext(ctx, &locked, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, classLockKey(scope)); err != nil {
			return fmt.Errorf("lock class results: %w", err)
		}
		if !locked {
			return appErrors.ErrResultsLocked
		}

		const updateTerms = `UPDATE term_results SET status = $5, published_at = $6
WHERE tenant_id = $1 AND term_id = $2 AND class_id = $3 AND status = $4 RETURNING student_id`
		if err := tx.SelectContext(ctx, &students, updateTerms, scope.TenantID, scope.TermID, scope.ClassID, from, to, at); err != nil {
			return fmt.Errorf("update term results: %w", err)
		}
		if len(students) == 0 {
			return none
		}

		const updateSnapshots = `UPDATE result_snapshots SET status = $5, published_at = $6
WHERE tenant_id = $1 AND term_id = $2 AND class_id = $3 AND status = $4 AND student_id = ANY($7)`
		if _, err := tx.ExecContext(ctx, updateSnapshots, scope.TenantID, scope.TermID, scope.ClassID, from, to, at, pq.Array(students)); err != nil {
			return fmt.Errorf("update result snapshots: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return students, nil
}

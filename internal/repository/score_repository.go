package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

const scoreSelect = `SELECT se.id, se.tenant_id, se.student_id, se.class_subject_id, se.term_id, se.assessment_type_id,
se.score, se.max_score, se.entered_by, se.entered_at, se.status, cs.class_id, cs.subject_id, at.code AS assessment_code
FROM score_entries se
JOIN class_subjects cs ON cs.id = se.class_subject_id
JOIN assessment_types at ON at.id = se.assessment_type_id`

// ScoreRepository reads and writes raw assessment scores.
type ScoreRepository struct {
	db *sqlx.DB
}

// NewScoreRepository constructs a ScoreRepository.
func NewScoreRepository(db *sqlx.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// ListByClassTerm loads every score of a class for a term in one read.
func (r *ScoreRepository) ListByClassTerm(ctx context.Context, tenantID, termID, classID string) ([]models.ScoreEntry, error) {
	query := scoreSelect + `
WHERE se.tenant_id = $1 AND se.term_id = $2 AND cs.class_id = $3
ORDER BY se.student_id, cs.subject_id, at.code`
	var entries []models.ScoreEntry
	if err := r.db.SelectContext(ctx, &entries, query, tenantID, termID, classID); err != nil {
		return nil, fmt.Errorf("list class scores: %w", err)
	}
	return entries, nil
}

// ListByStudent loads one student's scores for a term, optionally restricted to a class.
func (r *ScoreRepository) ListByStudent(ctx context.Context, tenantID, studentID, termID, classID string) ([]models.ScoreEntry, error) {
	query := scoreSelect + `
WHERE se.tenant_id = $1 AND se.student_id = $2 AND se.term_id = $3 AND ($4 = '' OR cs.class_id = $4)
ORDER BY cs.subject_id, at.code`
	var entries []models.ScoreEntry
	if err := r.db.SelectContext(ctx, &entries, query, tenantID, studentID, termID, classID); err != nil {
		return nil, fmt.Errorf("list student scores: %w", err)
	}
	return entries, nil
}

// ListByOffering loads every score of a subject offering for a term.
func (r *ScoreRepository) ListByOffering(ctx context.Context, tenantID, termID, classSubjectID string) ([]models.ScoreEntry, error) {
	query := scoreSelect + `
WHERE se.tenant_id = $1 AND se.term_id = $2 AND se.class_subject_id = $3
ORDER BY se.student_id, at.code`
	var entries []models.ScoreEntry
	if err := r.db.SelectContext(ctx, &entries, query, tenantID, termID, classSubjectID); err != nil {
		return nil, fmt.Errorf("list offering scores: %w", err)
	}
	return entries, nil
}

// Upsert writes entries for one class and term, overwriting re-submitted assessments. It holds
// a shared advisory lock so it cannot interleave with a running computation of the class.
func (r *ScoreRepository) Upsert(ctx context.Context, scope models.ResultScope, entries []models.ScoreEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin score upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var locked bool
	if err := tx.GetContext(ctx, &locked, `SELECT pg_try_advisory_xact_lock_shared(hashtext($1))`, classLockKey(scope)); err != nil {
		return fmt.Errorf("lock class scores: %w", err)
	}
	if !locked {
		return appErrors.ErrResultsLocked
	}

	const query = `INSERT INTO score_entries (id, tenant_id, student_id, class_subject_id, term_id, assessment_type_id, score, max_score, entered_by, entered_at, status)
VALUES (:id, :tenant_id, :student_id, :class_subject_id, :term_id, :assessment_type_id, :score, :max_score, :entered_by, :entered_at, :status)
ON CONFLICT (tenant_id, student_id, class_subject_id, term_id, assessment_type_id) DO UPDATE SET
score = EXCLUDED.score, max_score = EXCLUDED.max_score, entered_by = EXCLUDED.entered_by, entered_at = EXCLUDED.entered_at, status = EXCLUDED.status`
	now := time.Now().UTC()
	for i := range entries {
		entry := &entries[i]
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.EnteredAt.IsZero() {
			entry.EnteredAt = now
		}
		if entry.Status == "" {
			entry.Status = models.ScoreStatusPending
		}
		entry.TenantID = scope.TenantID
		entry.TermID = scope.TermID
		if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
			return fmt.Errorf("upsert score entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit score upsert: %w", err)
	}
	return nil
}

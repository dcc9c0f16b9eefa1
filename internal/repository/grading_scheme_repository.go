package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-results-api/internal/models"
)

// GradingSchemeRepository stores tenant grading tables.
type GradingSchemeRepository struct {
	db *sqlx.DB
}

// NewGradingSchemeRepository constructs a GradingSchemeRepository.
func NewGradingSchemeRepository(db *sqlx.DB) *GradingSchemeRepository {
	return &GradingSchemeRepository{db: db}
}

// ListByTenant returns the tenant's rules, highest band first. Empty means none configured.
func (r *GradingSchemeRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.GradeRule, error) {
	const query = `SELECT tenant_id, min_score, max_score, grade, remark, points FROM grading_rules WHERE tenant_id = $1 ORDER BY min_score DESC`
	var rules []models.GradeRule
	if err := r.db.SelectContext(ctx, &rules, query, tenantID); err != nil {
		return nil, fmt.Errorf("list grading rules: %w", err)
	}
	return rules, nil
}

// Replace swaps the tenant's whole table atomically.
func (r *GradingSchemeRepository) Replace(ctx context.Context, tenantID string, rules []models.GradeRule) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grading scheme replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM grading_rules WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("clear grading rules: %w", err)
	}
	const insert = `INSERT INTO grading_rules (tenant_id, min_score, max_score, grade, remark, points)
VALUES (:tenant_id, :min_score, :max_score, :grade, :remark, :points)`
	for i := range rules {
		rules[i].TenantID = tenantID
		if _, err := tx.NamedExecContext(ctx, insert, rules[i]); err != nil {
			return fmt.Errorf("insert grading rule: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grading scheme replace: %w", err)
	}
	return nil
}

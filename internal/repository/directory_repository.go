package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-results-api/internal/models"
)

// DirectoryRepository answers roster questions about classes.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs a DirectoryRepository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// StudentsInClass lists actively enrolled students.
func (r *DirectoryRepository) StudentsInClass(ctx context.Context, tenantID, classID string) ([]string, error) {
	const query = `SELECT student_id FROM class_enrollments WHERE tenant_id = $1 AND class_id = $2 AND status = 'ACTIVE' ORDER BY student_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, tenantID, classID); err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	return ids, nil
}

// SubjectsInClass lists the subject offerings of a class.
func (r *DirectoryRepository) SubjectsInClass(ctx context.Context, tenantID, classID string) ([]models.ClassSubject, error) {
	const query = `SELECT id, tenant_id, class_id, subject_id FROM class_subjects WHERE tenant_id = $1 AND class_id = $2 ORDER BY subject_id`
	var subjects []models.ClassSubject
	if err := r.db.SelectContext(ctx, &subjects, query, tenantID, classID); err != nil {
		return nil, fmt.Errorf("list class subjects: %w", err)
	}
	return subjects, nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/grading"
	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

type scoreStore interface {
	ListByStudent(ctx context.Context, tenantID, studentID, termID, classID string) ([]models.ScoreEntry, error)
	Upsert(ctx context.Context, scope models.ResultScope, entries []models.ScoreEntry) error
}

// ScoreInput is one assessment score in a bulk submission.
type ScoreInput struct {
	StudentID        string  `json:"student_id" validate:"required"`
	ClassSubjectID   string  `json:"class_subject_id" validate:"required"`
	AssessmentTypeID string  `json:"assessment_type_id" validate:"required"`
	Score            float64 `json:"score"`
	MaxScore         float64 `json:"max_score" validate:"required,gt=0"`
}

// BulkScoresRequest submits scores for one class and term.
type BulkScoresRequest struct {
	TermID    string       `json:"term_id" validate:"required"`
	ClassID   string       `json:"class_id" validate:"required"`
	EnteredBy string       `json:"entered_by" validate:"required"`
	Status    string       `json:"status" validate:"omitempty,oneof=pending verified"`
	Entries   []ScoreInput `json:"entries" validate:"required,min=1,dive"`
}

// BulkScoresResult reports how many entries were written.
type BulkScoresResult struct {
	Saved int `json:"saved"`
}

// ScoreService validates and stores teacher-entered scores.
type ScoreService struct {
	scores    scoreStore
	subjects  classSubjectLister
	cache     classCacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScoreService constructs ScoreService. cache may be nil; when set, the class's cached
// rankings and statistics are dropped after every successful write.
func NewScoreService(scores scoreStore, subjects classSubjectLister, cache classCacheInvalidator, validate *validator.Validate, logger *zap.Logger) *ScoreService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoreService{scores: scores, subjects: subjects, cache: cache, validator: validate, logger: logger}
}

// BulkUpsert writes every entry or none. Re-submitting an assessment overwrites it.
func (s *ScoreService) BulkUpsert(ctx context.Context, tenantID string, req BulkScoresRequest) (*BulkScoresResult, error) {
	if tenantID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tenant is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid score payload")
	}
	offerings, err := s.subjects.SubjectsInClass(ctx, tenantID, req.ClassID)
	if err != nil {
		return nil, internalError(err, "failed to load class subjects")
	}
	offered := make(map[string]struct{}, len(offerings))
	for _, o := range offerings {
		offered[o.ID] = struct{}{}
	}

	status := models.ScoreStatusPending
	if req.Status != "" {
		status = models.ScoreReviewStatus(req.Status)
	}
	var problems []string
	var firstErr error
	entries := make([]models.ScoreEntry, 0, len(req.Entries))
	for i, in := range req.Entries {
		if _, ok := offered[in.ClassSubjectID]; !ok {
			problems = append(problems, fmt.Sprintf("entry %d: subject offering %s is not part of class", i, in.ClassSubjectID))
			if firstErr == nil {
				firstErr = appErrors.ErrValidation
			}
			continue
		}
		if err := grading.ValidateScore(in.Score, in.MaxScore); err != nil {
			problems = append(problems, fmt.Sprintf("entry %d (student %s): %s", i, in.StudentID, describe(err)))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		entries = append(entries, models.ScoreEntry{
			StudentID:        in.StudentID,
			ClassSubjectID:   in.ClassSubjectID,
			AssessmentTypeID: in.AssessmentTypeID,
			Score:            in.Score,
			MaxScore:         in.MaxScore,
			EnteredBy:        req.EnteredBy,
			Status:           status,
		})
	}
	if len(problems) > 0 {
		typed := appErrors.FromError(firstErr)
		return nil, appErrors.Clone(typed, strings.Join(problems, "; "))
	}

	scope := models.ResultScope{TenantID: tenantID, TermID: req.TermID, ClassID: req.ClassID}
	if err := s.scores.Upsert(ctx, scope, entries); err != nil {
		return nil, internalError(err, "failed to save scores")
	}
	if s.cache != nil {
		if err := s.cache.InvalidateClass(ctx, tenantID, req.TermID, req.ClassID); err != nil {
			s.logger.Sugar().Warnw("failed to invalidate cached class results", "class_id", req.ClassID, "error", err)
		}
	}
	s.logger.Sugar().Infow("scores saved", "tenant_id", tenantID, "term_id", req.TermID, "class_id", req.ClassID, "entries", len(entries))
	return &BulkScoresResult{Saved: len(entries)}, nil
}

// StudentScores lists a student's raw scores for a term, optionally within one class.
func (s *ScoreService) StudentScores(ctx context.Context, tenantID, studentID, termID, classID string) ([]models.ScoreEntry, error) {
	if termID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term_id is required")
	}
	entries, err := s.scores.ListByStudent(ctx, tenantID, studentID, termID, classID)
	if err != nil {
		return nil, internalError(err, "failed to load scores")
	}
	return entries, nil
}

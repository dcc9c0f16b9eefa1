package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
	"github.com/noah-isme/sma-results-api/pkg/events"
	"github.com/noah-isme/sma-results-api/pkg/jobs"
)

// JobTypeNotifyResult labels per-student notification jobs.
const JobTypeNotifyResult = "notify-result"

type resultStateStore interface {
	Publish(ctx context.Context, scope models.ResultScope, at time.Time) ([]string, error)
	Unpublish(ctx context.Context, scope models.ResultScope) ([]string, error)
}

type eventPublisher interface {
	Publish(subject string, data interface{}) error
}

type notificationQueue interface {
	Enqueue(job jobs.Job) error
}

// PublishRequest targets one class result set.
type PublishRequest struct {
	TermID  string `json:"term_id" validate:"required"`
	ClassID string `json:"class_id" validate:"required"`
}

// PublishOutcome reports what a publish or unpublish changed.
type PublishOutcome struct {
	TermID              string     `json:"term_id"`
	ClassID             string     `json:"class_id"`
	StudentIDs          []string   `json:"student_ids"`
	PublishedAt         *time.Time `json:"published_at,omitempty"`
	NotificationsQueued int        `json:"notifications_queued"`
}

// ResultPublishService moves class result sets between computed and published.
type ResultPublishService struct {
	results   resultStateStore
	events    eventPublisher
	notify    notificationQueue
	cache     classCacheInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewResultPublishService constructs ResultPublishService.
func NewResultPublishService(results resultStateStore, publisher eventPublisher, notify notificationQueue, cache classCacheInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ResultPublishService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultPublishService{
		results:   results,
		events:    publisher,
		notify:    notify,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Publish makes computed results visible, then emits ResultsPublished and queues one
// notification per student. A class with nothing computed fails with NO_COMPUTED_RESULTS.
func (s *ResultPublishService) Publish(ctx context.Context, tenantID string, req PublishRequest) (*PublishOutcome, error) {
	scope, err := s.scope(tenantID, req)
	if err != nil {
		return nil, err
	}
	at := s.now()
	students, err := s.results.Publish(ctx, scope, at)
	if err != nil {
		return nil, internalError(err, "failed to publish results")
	}
	s.metrics.RecordPublishTransition("publish")
	s.invalidate(ctx, scope)

	log := s.logger.Sugar().With("tenant_id", tenantID, "term_id", req.TermID, "class_id", req.ClassID)
	event := models.ResultsPublished{TenantID: tenantID, TermID: req.TermID, ClassID: req.ClassID, StudentIDs: students, PublishedAt: at}
	if err := s.events.Publish(events.SubjectResultsPublished(tenantID), event); err != nil {
		log.Errorw("failed to emit results published event", "error", err)
	}

	queued := 0
	for _, studentID := range students {
		job := jobs.Job{
			ID:   fmt.Sprintf("notify-%s", uuid.NewString()),
			Type: JobTypeNotifyResult,
			Payload: models.StudentResultNotification{
				TenantID:  tenantID,
				TermID:    req.TermID,
				ClassID:   req.ClassID,
				StudentID: studentID,
			},
		}
		if err := s.notify.Enqueue(job); err != nil {
			log.Warnw("failed to queue result notification", "student_id", studentID, "error", err)
			continue
		}
		queued++
	}
	log.Infow("results published", "students", len(students), "notifications", queued)
	return &PublishOutcome{TermID: req.TermID, ClassID: req.ClassID, StudentIDs: students, PublishedAt: &at, NotificationsQueued: queued}, nil
}

// Unpublish hides published results again. No notifications are sent.
func (s *ResultPublishService) Unpublish(ctx context.Context, tenantID string, req PublishRequest) (*PublishOutcome, error) {
	scope, err := s.scope(tenantID, req)
	if err != nil {
		return nil, err
	}
	students, err := s.results.Unpublish(ctx, scope)
	if err != nil {
		return nil, internalError(err, "failed to unpublish results")
	}
	s.metrics.RecordPublishTransition("unpublish")
	s.invalidate(ctx, scope)
	s.logger.Sugar().Infow("results unpublished", "tenant_id", tenantID, "term_id", req.TermID, "class_id", req.ClassID, "students", len(students))
	return &PublishOutcome{TermID: req.TermID, ClassID: req.ClassID, StudentIDs: students}, nil
}

func (s *ResultPublishService) scope(tenantID string, req PublishRequest) (models.ResultScope, error) {
	if tenantID == "" {
		return models.ResultScope{}, appErrors.Clone(appErrors.ErrValidation, "tenant is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return models.ResultScope{}, validationError(err, "invalid publish request")
	}
	return models.ResultScope{TenantID: tenantID, TermID: req.TermID, ClassID: req.ClassID}, nil
}

func (s *ResultPublishService) invalidate(ctx context.Context, scope models.ResultScope) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateClass(ctx, scope.TenantID, scope.TermID, scope.ClassID); err != nil {
		s.logger.Sugar().Warnw("failed to invalidate cached class results", "class_id", scope.ClassID, "error", err)
	}
}

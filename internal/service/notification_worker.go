package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/models"
	"github.com/noah-isme/sma-results-api/pkg/events"
	"github.com/noah-isme/sma-results-api/pkg/jobs"
)

// NotificationWorker hands per-student result notifications to the communication service.
type NotificationWorker struct {
	events  eventPublisher
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationWorker constructs a NotificationWorker.
func NewNotificationWorker(publisher eventPublisher, metrics *MetricsService, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{events: publisher, metrics: metrics, logger: logger}
}

// Handle publishes one notification request.
func (w *NotificationWorker) Handle(ctx context.Context, job jobs.Job) error {
	note, ok := job.Payload.(models.StudentResultNotification)
	if !ok {
		w.metrics.RecordNotification("invalid")
		return jobs.Permanent(fmt.Errorf("job %s: unexpected payload %T", job.ID, job.Payload))
	}
	if err := w.events.Publish(events.SubjectResultNotification(note.TenantID), note); err != nil {
		w.metrics.RecordNotification("error")
		return err
	}
	w.metrics.RecordNotification("sent")
	w.logger.Debug("result notification sent", zap.String("student_id", note.StudentID), zap.String("term_id", note.TermID))
	return nil
}

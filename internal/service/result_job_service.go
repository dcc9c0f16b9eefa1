package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
	"github.com/noah-isme/sma-results-api/pkg/jobs"
)

// JobTypeComputeResults labels result computation jobs on the queue.
const JobTypeComputeResults = "compute-results"

// JobStateStore persists computation job records between attempts and restarts.
type JobStateStore interface {
	Save(ctx context.Context, job *models.ComputationJob) error
	Get(ctx context.Context, id string) (*models.ComputationJob, error)
	ListByState(ctx context.Context, state models.JobState) ([]models.ComputationJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
	MaxAttempts() int
}

type resultComputer interface {
	ComputeResults(ctx context.Context, tenantID string, req models.ComputationRequest, onProgress ProgressFunc) (*models.ComputationProgress, error)
}

// ResultJobService accepts computation requests and exposes their progress.
type ResultJobService struct {
	store     JobStateStore
	queue     jobDispatcher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewResultJobService constructs ResultJobService.
func NewResultJobService(store JobStateStore, queue jobDispatcher, validate *validator.Validate, logger *zap.Logger) *ResultJobService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultJobService{store: store, queue: queue, validator: validate, logger: logger}
}

// Submit records a pending job and hands it to the worker pool without waiting for it.
func (s *ResultJobService) Submit(ctx context.Context, tenantID string, req models.ComputationRequest) (*models.ComputationJob, error) {
	if tenantID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tenant is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid computation request")
	}
	now := time.Now().UTC()
	job := &models.ComputationJob{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Request:     req,
		State:       models.JobStatePending,
		MaxAttempts: s.queue.MaxAttempts(),
		Progress:    models.ComputationProgress{Status: models.ComputationPending, Errors: []string{}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Save(ctx, job); err != nil {
		return nil, internalError(err, "failed to record computation job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: JobTypeComputeResults}); err != nil {
		job.State = models.JobStateFailed
		job.LastError = "failed to enqueue job"
		job.FinishedAt = &now
		_ = s.store.Save(ctx, job)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue computation job")
	}
	s.logger.Sugar().Infow("computation job submitted", "job_id", job.ID, "tenant_id", tenantID, "term_id", req.TermID, "class_id", req.ClassID)
	return job, nil
}

// GetProgress returns the job record for polling.
func (s *ResultJobService) GetProgress(ctx context.Context, id string) (*models.ComputationJob, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, internalError(err, "failed to load computation job")
	}
	return job, nil
}

// RecoverPendingJobs requeues jobs interrupted by a restart. Jobs caught mid-run count the
// interrupted run as an attempt.
func (s *ResultJobService) RecoverPendingJobs(ctx context.Context) int {
	recovered := 0
	for _, state := range []models.JobState{models.JobStatePending, models.JobStateActive} {
		list, err := s.store.ListByState(ctx, state)
		if err != nil {
			s.logger.Sugar().Warnw("failed to list computation jobs", "state", state, "error", err)
			continue
		}
		for i := range list {
			job := list[i]
			now := time.Now().UTC()
			job.UpdatedAt = now
			if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
				job.State = models.JobStateFailed
				job.Progress.Status = models.ComputationFailed
				job.LastError = "interrupted after final attempt"
				job.FinishedAt = &now
				_ = s.store.Save(ctx, &job)
				continue
			}
			job.State = models.JobStatePending
			if err := s.store.Save(ctx, &job); err != nil {
				s.logger.Sugar().Warnw("failed to reset computation job", "job_id", job.ID, "error", err)
				continue
			}
			if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: JobTypeComputeResults, Attempt: job.Attempts}); err != nil {
				s.logger.Sugar().Warnw("failed to requeue computation job", "job_id", job.ID, "error", err)
				continue
			}
			recovered++
		}
	}
	if recovered > 0 {
		s.logger.Sugar().Infow("recovered computation jobs", "count", recovered)
	}
	return recovered
}

// ResultComputationWorker runs queued computation jobs and keeps their state current.
type ResultComputationWorker struct {
	store       JobStateStore
	computer    resultComputer
	metrics     *MetricsService
	maxAttempts int
	logger      *zap.Logger
}

// NewResultComputationWorker constructs a worker.
func NewResultComputationWorker(store JobStateStore, computer resultComputer, metrics *MetricsService, maxAttempts int, logger *zap.Logger) *ResultComputationWorker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultComputationWorker{store: store, computer: computer, metrics: metrics, maxAttempts: maxAttempts, logger: logger}
}

// Handle processes one queue delivery. Errors that retrying cannot fix are marked permanent.
func (w *ResultComputationWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.store.Get(ctx, job.ID)
	if err != nil {
		if errors.Is(err, appErrors.ErrJobNotFound) {
			return jobs.Permanent(err)
		}
		return err
	}
	record.State = models.JobStateActive
	record.Attempts = job.Attempt + 1
	record.Progress = models.ComputationProgress{Status: models.ComputationProcessing, Errors: []string{}}
	record.UpdatedAt = time.Now().UTC()
	if err := w.store.Save(ctx, record); err != nil {
		return err
	}

	start := time.Now()
	progress, panicked, err := w.compute(ctx, record)
	elapsed := time.Since(start)
	now := time.Now().UTC()
	record.UpdatedAt = now

	if err == nil {
		record.State = models.JobStateCompleted
		record.Progress = *progress
		record.LastError = ""
		record.FinishedAt = &now
		w.metrics.ObserveComputation("completed", elapsed, progress.Processed, progress.Failed)
		w.save(ctx, record)
		w.logger.Sugar().Infow("computation job completed", "job_id", record.ID, "attempt", record.Attempts, "processed", progress.Processed, "failed", progress.Failed)
		return nil
	}

	record.LastError = err.Error()
	retryable := !panicked && appErrors.IsTransient(err)
	if !retryable || record.Attempts >= w.maxAttempts {
		record.State = models.JobStateFailed
		record.Progress.Status = models.ComputationFailed
		record.FinishedAt = &now
		w.metrics.ObserveComputation("failed", elapsed, 0, 0)
		w.save(ctx, record)
		w.logger.Sugar().Errorw("computation job failed", "job_id", record.ID, "attempt", record.Attempts, "error", err)
		if !retryable {
			return jobs.Permanent(err)
		}
		return err
	}

	record.State = models.JobStatePending
	record.Progress.Status = models.ComputationPending
	w.metrics.ObserveComputation("retry", elapsed, 0, 0)
	w.save(ctx, record)
	w.logger.Sugar().Warnw("computation attempt failed, will retry", "job_id", record.ID, "attempt", record.Attempts, "error", err)
	return err
}

// compute runs one attempt. A panic is turned into a non-retryable error so the record
// still reaches a terminal state instead of staying active.
func (w *ResultComputationWorker) compute(ctx context.Context, record *models.ComputationJob) (progress *models.ComputationProgress, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Sugar().Errorw("computation panicked", "job_id", record.ID, "panic", r)
			progress, panicked, err = nil, true, fmt.Errorf("computation panicked: %v", r)
		}
	}()
	progress, err = w.computer.ComputeResults(ctx, record.TenantID, record.Request, func(p models.ComputationProgress) {
		record.Progress = p
		record.UpdatedAt = time.Now().UTC()
		if saveErr := w.store.Save(ctx, record); saveErr != nil {
			w.logger.Sugar().Warnw("failed to save job progress", "job_id", record.ID, "error", saveErr)
		}
	})
	return progress, false, err
}

// save persists the final state of an attempt even when the queue is shutting down.
func (w *ResultComputationWorker) save(ctx context.Context, record *models.ComputationJob) {
	if err := w.store.Save(context.WithoutCancel(ctx), record); err != nil {
		w.logger.Sugar().Warnw("failed to save job state", "job_id", record.ID, "state", record.State, "error", err)
	}
}

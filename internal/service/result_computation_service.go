package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/grading"
	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

type classScoreReader interface {
	ListByClassTerm(ctx context.Context, tenantID, termID, classID string) ([]models.ScoreEntry, error)
}

type classRoster interface {
	StudentsInClass(ctx context.Context, tenantID, classID string) ([]string, error)
}

type schemeProvider interface {
	Scheme(ctx context.Context, tenantID string) (*models.GradingScheme, error)
}

type resultWriter interface {
	LockClass(ctx context.Context, scope models.ResultScope) (func(), error)
	CountByStatus(ctx context.Context, scope models.ResultScope, status models.ResultStatus) (int, error)
	SaveStudentResult(ctx context.Context, snapshots []models.ResultSnapshot, term *models.TermResult, computedAt time.Time) error
	ClearStudentResult(ctx context.Context, scope models.ResultScope, studentID string) error
}

type classCacheInvalidator interface {
	InvalidateClass(ctx context.Context, tenantID, termID, classID string) error
}

// ProgressFunc receives a copy of the running counters.
type ProgressFunc func(models.ComputationProgress)

// ResultComputationService turns a class's raw scores into subject snapshots and term results.
// Each student is written in its own transaction: a failing student is recorded and skipped
// while the rest of the class is still committed.
type ResultComputationService struct {
	scores      classScoreReader
	roster      classRoster
	schemes     schemeProvider
	results     resultWriter
	cache       classCacheInvalidator
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewResultComputationService constructs ResultComputationService.
func NewResultComputationService(scores classScoreReader, roster classRoster, schemes schemeProvider, results resultWriter, cache classCacheInvalidator, concurrency int, logger *zap.Logger) *ResultComputationService {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultComputationService{
		scores:      scores,
		roster:      roster,
		schemes:     schemes,
		results:     results,
		cache:       cache,
		concurrency: concurrency,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ComputeResults computes and stores results for a class and term. The returned error is
// reserved for job-level failures; per-student failures are reported in the progress.
func (s *ResultComputationService) ComputeResults(ctx context.Context, tenantID string, req models.ComputationRequest, onProgress ProgressFunc) (*models.ComputationProgress, error) {
	scope := models.ResultScope{TenantID: tenantID, TermID: req.TermID, ClassID: req.ClassID}
	log := s.logger.Sugar().With("tenant_id", tenantID, "term_id", req.TermID, "class_id", req.ClassID)

	unlock, err := s.results.LockClass(ctx, scope)
	if err != nil {
		return nil, internalError(err, "failed to lock class results")
	}
	defer unlock()

	published, err := s.results.CountByStatus(ctx, scope, models.ResultStatusPublished)
	if err != nil {
		return nil, internalError(err, "failed to inspect result status")
	}
	if published > 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "results are published; unpublish before recomputing")
	}

	scheme, err := s.schemes.Scheme(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	entries, err := s.scores.ListByClassTerm(ctx, tenantID, req.TermID, req.ClassID)
	if err != nil {
		return nil, internalError(err, "failed to load class scores")
	}
	enrolled, err := s.roster.StudentsInClass(ctx, tenantID, req.ClassID)
	if err != nil {
		return nil, internalError(err, "failed to load class roster")
	}

	cohort := grading.BuildCohort(entries)
	targets, ignored := targetStudents(enrolled, entries, req.StudentIDs)

	progress := &models.ComputationProgress{Total: len(targets), Status: models.ComputationProcessing, Errors: []string{}}
	for _, id := range ignored {
		progress.Warnings = append(progress.Warnings, fmt.Sprintf("student %s: not enrolled in class and has no scores", id))
	}
	if onProgress != nil {
		onProgress(*progress)
	}
	log.Infow("computing results", "students", len(targets), "ranked", cohort.Size(), "default_scheme", scheme.IsDefault)

	computedAt := s.now()
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		transient  int
		reportStep = max(1, len(targets)/20)
	)
	record := func(studentID string, warnings []string, err error) {
		mu.Lock()
		defer mu.Unlock()
		progress.Warnings = append(progress.Warnings, warnings...)
		if err != nil {
			progress.Failed++
			progress.Errors = append(progress.Errors, fmt.Sprintf("student %s: %s", studentID, describe(err)))
			if appErrors.IsTransient(err) {
				transient++
			}
		} else {
			progress.Processed++
		}
		if done := progress.Processed + progress.Failed; onProgress != nil && (done%reportStep == 0 || done == progress.Total) {
			onProgress(snapshotProgress(progress))
		}
	}

	work := make(chan string)
	for i := 0; i < min(s.concurrency, max(1, len(targets))); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for studentID := range work {
				outcome, err := cohort.Assemble(scope, studentID, scheme.Rules)
				if err == nil {
					err = s.results.SaveStudentResult(ctx, outcome.Snapshots, &outcome.Term, computedAt)
				}
				if errors.Is(err, appErrors.ErrNoScores) {
					// a student without scores keeps no stored results
					if clearErr := s.results.ClearStudentResult(ctx, scope, studentID); clearErr != nil {
						log.Warnw("failed to clear stale student result", "student_id", studentID, "error", clearErr)
					}
				}
				if err != nil {
					log.Warnw("student result failed", "student_id", studentID, "error", err)
					record(studentID, nil, err)
					continue
				}
				record(studentID, outcome.Warnings, nil)
			}
		}()
	}

	var cancelled error
	for _, studentID := range targets {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		work <- studentID
	}
	close(work)
	wg.Wait()

	if cancelled != nil {
		return nil, appErrors.Wrap(cancelled, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "computation cancelled")
	}
	if progress.Processed == 0 && transient > 0 {
		return nil, appErrors.Clone(appErrors.ErrTransient, fmt.Sprintf("no student results could be stored: %s", progress.Errors[0]))
	}

	sort.Strings(progress.Errors)
	sort.Strings(progress.Warnings)
	progress.Status = models.ComputationCompleted
	if onProgress != nil {
		onProgress(snapshotProgress(progress))
	}
	if s.cache != nil {
		if err := s.cache.InvalidateClass(ctx, tenantID, req.TermID, req.ClassID); err != nil {
			log.Warnw("failed to invalidate cached class results", "error", err)
		}
	}
	log.Infow("results computed", "processed", progress.Processed, "failed", progress.Failed, "warnings", len(progress.Warnings))
	return progress, nil
}

// targetStudents is the roster plus any scored student, narrowed to subset when one is given.
// Subset ids that are neither enrolled nor scored are returned separately.
func targetStudents(enrolled []string, entries []models.ScoreEntry, subset []string) ([]string, []string) {
	known := make(map[string]struct{}, len(enrolled))
	for _, id := range enrolled {
		known[id] = struct{}{}
	}
	for _, e := range entries {
		known[e.StudentID] = struct{}{}
	}

	var targets, ignored []string
	if len(subset) == 0 {
		for id := range known {
			targets = append(targets, id)
		}
	} else {
		seen := make(map[string]struct{}, len(subset))
		for _, id := range subset {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if _, ok := known[id]; ok {
				targets = append(targets, id)
			} else {
				ignored = append(ignored, id)
			}
		}
	}
	sort.Strings(targets)
	sort.Strings(ignored)
	return targets, ignored
}

func snapshotProgress(p *models.ComputationProgress) models.ComputationProgress {
	copied := *p
	copied.Errors = append([]string{}, p.Errors...)
	copied.Warnings = append([]string(nil), p.Warnings...)
	return copied
}

func describe(err error) string {
	if typed, ok := err.(*appErrors.Error); ok && typed.Err == nil {
		return typed.Message
	}
	return err.Error()
}

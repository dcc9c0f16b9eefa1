package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/grading"
	"github.com/noah-isme/sma-results-api/internal/models"
	"github.com/noah-isme/sma-results-api/pkg/cache"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

type queryScoreReader interface {
	ListByClassTerm(ctx context.Context, tenantID, termID, classID string) ([]models.ScoreEntry, error)
	ListByOffering(ctx context.Context, tenantID, termID, classSubjectID string) ([]models.ScoreEntry, error)
}

type classSubjectLister interface {
	SubjectsInClass(ctx context.Context, tenantID, classID string) ([]models.ClassSubject, error)
}

type resultReader interface {
	ListTermResults(ctx context.Context, scope models.ResultScope) ([]models.TermResult, error)
	ListSnapshots(ctx context.Context, scope models.ResultScope) ([]models.ResultSnapshot, error)
	GetStudentTermResult(ctx context.Context, tenantID, studentID, termID string) (*models.TermResult, error)
	ListStudentSnapshots(ctx context.Context, tenantID, studentID, termID string) ([]models.ResultSnapshot, error)
}

// ResultQueryService answers read-side questions about a class's results.
type ResultQueryService struct {
	scores   queryScoreReader
	subjects classSubjectLister
	results  resultReader
	cache    *CacheService
	logger   *zap.Logger
}

// NewResultQueryService constructs ResultQueryService.
func NewResultQueryService(scores queryScoreReader, subjects classSubjectLister, results resultReader, cacheSvc *CacheService, logger *zap.Logger) *ResultQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultQueryService{scores: scores, subjects: subjects, results: results, cache: cacheSvc, logger: logger}
}

// ClassStatistics returns average, highest and lowest for a subject, or for term averages
// when subjectID is empty.
func (s *ResultQueryService) ClassStatistics(ctx context.Context, scope models.ResultScope, subjectID string) (*models.ClassStatistics, error) {
	key := cache.Key("stats", scope.TenantID, scope.TermID, scope.ClassID, orAll(subjectID))
	return cachedRead(ctx, s, key, func() (*models.ClassStatistics, error) {
		cohort, err := s.classCohort(ctx, scope)
		if err != nil {
			return nil, err
		}
		stats := cohort.ClassStats
		if subjectID != "" {
			var ok bool
			if stats, ok = cohort.SubjectStats[subjectID]; !ok {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "no scores for subject in class")
			}
		}
		return &models.ClassStatistics{SubjectID: subjectID, Count: stats.Count, Average: stats.Average, Highest: stats.Highest, Lowest: stats.Lowest}, nil
	})
}

// Positions ranks the class by term total (the sum of subject totals).
func (s *ResultQueryService) Positions(ctx context.Context, scope models.ResultScope) (map[string]int, error) {
	key := cache.Key("positions", scope.TenantID, scope.TermID, scope.ClassID, "all")
	return cachedRead(ctx, s, key, func() (map[string]int, error) {
		cohort, err := s.classCohort(ctx, scope)
		if err != nil {
			return nil, err
		}
		return cohort.ClassRanks, nil
	})
}

// SubjectPositions ranks the class within one subject using that offering's scores only.
func (s *ResultQueryService) SubjectPositions(ctx context.Context, scope models.ResultScope, subjectID string) (map[string]int, error) {
	key := cache.Key("subject-positions", scope.TenantID, scope.TermID, scope.ClassID, subjectID)
	return cachedRead(ctx, s, key, func() (map[string]int, error) {
		offerings, err := s.subjects.SubjectsInClass(ctx, scope.TenantID, scope.ClassID)
		if err != nil {
			return nil, internalError(err, "failed to load class subjects")
		}
		offeringID := ""
		for _, o := range offerings {
			if o.SubjectID == subjectID {
				offeringID = o.ID
				break
			}
		}
		if offeringID == "" {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject is not offered in class")
		}
		entries, err := s.scores.ListByOffering(ctx, scope.TenantID, scope.TermID, offeringID)
		if err != nil {
			return nil, internalError(err, "failed to load subject scores")
		}
		for i := range entries {
			entries[i].SubjectID = subjectID
		}
		ranks := grading.BuildCohort(entries).SubjectRanks[subjectID]
		if ranks == nil {
			ranks = map[string]int{}
		}
		return ranks, nil
	})
}

// StudentResult returns a student's stored term result with its subject breakdown. When
// publishedOnly is set, results that are not yet published are reported as missing.
func (s *ResultQueryService) StudentResult(ctx context.Context, tenantID, studentID, termID string, publishedOnly bool) (*models.StudentTermReport, error) {
	result, err := s.results.GetStudentTermResult(ctx, tenantID, studentID, termID)
	if err != nil {
		return nil, internalError(err, "failed to load term result")
	}
	if publishedOnly && result.Status != models.ResultStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "term result not published")
	}
	snaps, err := s.results.ListStudentSnapshots(ctx, tenantID, studentID, termID)
	if err != nil {
		return nil, internalError(err, "failed to load subject results")
	}
	return &models.StudentTermReport{Result: result, Subjects: snaps}, nil
}

// Broadsheet lays out every stored result of a class, one row per student ordered by position.
func (s *ResultQueryService) Broadsheet(ctx context.Context, scope models.ResultScope) (*models.Broadsheet, error) {
	key := cache.Key("broadsheet", scope.TenantID, scope.TermID, scope.ClassID, "all")
	return cachedRead(ctx, s, key, func() (*models.Broadsheet, error) {
		terms, err := s.results.ListTermResults(ctx, scope)
		if err != nil {
			return nil, internalError(err, "failed to load term results")
		}
		if len(terms) == 0 {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no computed results for class")
		}
		snaps, err := s.results.ListSnapshots(ctx, scope)
		if err != nil {
			return nil, internalError(err, "failed to load subject results")
		}

		bySubject := make(map[string]map[string]models.ResultSnapshot)
		subjectSet := make(map[string]struct{})
		for _, snap := range snaps {
			if bySubject[snap.StudentID] == nil {
				bySubject[snap.StudentID] = make(map[string]models.ResultSnapshot)
			}
			bySubject[snap.StudentID][snap.SubjectID] = snap
			subjectSet[snap.SubjectID] = struct{}{}
		}
		sheet := &models.Broadsheet{TermID: scope.TermID, ClassID: scope.ClassID, Students: make([]models.BroadsheetRow, 0, len(terms))}
		for subjectID := range subjectSet {
			sheet.Subjects = append(sheet.Subjects, subjectID)
		}
		sort.Strings(sheet.Subjects)
		for _, term := range terms {
			sheet.Students = append(sheet.Students, models.BroadsheetRow{
				StudentID: term.StudentID,
				Subjects:  bySubject[term.StudentID],
				Average:   term.Average,
				Position:  term.Position,
				Grade:     term.Grade,
				Status:    term.Status,
			})
		}
		return sheet, nil
	})
}

func (s *ResultQueryService) classCohort(ctx context.Context, scope models.ResultScope) (*grading.Cohort, error) {
	entries, err := s.scores.ListByClassTerm(ctx, scope.TenantID, scope.TermID, scope.ClassID)
	if err != nil {
		return nil, internalError(err, "failed to load class scores")
	}
	if len(entries) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no scores recorded for class")
	}
	return grading.BuildCohort(entries), nil
}

// cachedRead serves key from the cache when possible and stores freshly loaded values.
// Cache failures degrade to a direct load.
func cachedRead[T any](ctx context.Context, s *ResultQueryService, key string, load func() (T, error)) (T, error) {
	var cached T
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}
	value, err := load()
	if err != nil {
		return value, err
	}
	if err := s.cache.Set(ctx, key, value, 0); err != nil {
		s.logger.Debug("cache result", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

func orAll(id string) string {
	if id == "" {
		return "all"
	}
	return id
}

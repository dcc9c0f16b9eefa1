package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-results-api/internal/models"
	"github.com/noah-isme/sma-results-api/internal/repository"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

type recordingScoreStore struct {
	scope   models.ResultScope
	entries []models.ScoreEntry
	err     error
}

func (s *recordingScoreStore) ListByStudent(ctx context.Context, tenantID, studentID, termID, classID string) ([]models.ScoreEntry, error) {
	return s.entries, nil
}

func (s *recordingScoreStore) Upsert(ctx context.Context, scope models.ResultScope, entries []models.ScoreEntry) error {
	if s.err != nil {
		return s.err
	}
	s.scope = scope
	s.entries = entries
	return nil
}

func scoreRequest(inputs ...ScoreInput) BulkScoresRequest {
	return BulkScoresRequest{TermID: "term-1", ClassID: "jss1", EnteredBy: "teacher-1", Entries: inputs}
}

func newScoreFixture() (*ScoreService, *recordingScoreStore, *recordingInvalidator) {
	store := &recordingScoreStore{}
	cache := &recordingInvalidator{}
	subjects := &stubSubjects{subjects: []models.ClassSubject{{ID: "cs-math", SubjectID: "math"}}}
	return NewScoreService(store, subjects, cache, nil, nil), store, cache
}

func TestBulkUpsertScores(t *testing.T) {
	svc, store, cache := newScoreFixture()

	result, err := svc.BulkUpsert(context.Background(), "t1", scoreRequest(
		ScoreInput{StudentID: "s1", ClassSubjectID: "cs-math", AssessmentTypeID: "exam", Score: 40, MaxScore: 40},
		ScoreInput{StudentID: "s2", ClassSubjectID: "cs-math", AssessmentTypeID: "exam", Score: 0, MaxScore: 40},
	))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Saved)
	assert.Equal(t, models.ResultScope{TenantID: "t1", TermID: "term-1", ClassID: "jss1"}, store.scope)
	assert.Equal(t, models.ScoreStatusPending, store.entries[0].Status)
	assert.Equal(t, "teacher-1", store.entries[1].EnteredBy)
	assert.Equal(t, []string{"t1/term-1/jss1"}, cache.calls)
}

func TestBulkUpsertRejectsInvalidScoresWithoutWriting(t *testing.T) {
	svc, store, cache := newScoreFixture()

	_, err := svc.BulkUpsert(context.Background(), "t1", scoreRequest(
		ScoreInput{StudentID: "s1", ClassSubjectID: "cs-math", AssessmentTypeID: "exam", Score: 45, MaxScore: 40},
		ScoreInput{StudentID: "s2", ClassSubjectID: "cs-math", AssessmentTypeID: "exam", Score: 12.5, MaxScore: 40},
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrScoreOutOfRange))
	assert.Contains(t, err.Error(), "entry 1 (student s2): score 12.5 must be a whole number")
	assert.Nil(t, store.entries)
	assert.Empty(t, cache.calls)
}

func TestBulkUpsertRejectsForeignOffering(t *testing.T) {
	svc, _, _ := newScoreFixture()
	_, err := svc.BulkUpsert(context.Background(), "t1", scoreRequest(
		ScoreInput{StudentID: "s1", ClassSubjectID: "cs-art", AssessmentTypeID: "exam", Score: 1, MaxScore: 40},
	))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestBulkUpsertPassesLockConflictThrough(t *testing.T) {
	svc, store, cache := newScoreFixture()
	store.err = appErrors.ErrResultsLocked

	_, err := svc.BulkUpsert(context.Background(), "t1", scoreRequest(
		ScoreInput{StudentID: "s1", ClassSubjectID: "cs-math", AssessmentTypeID: "exam", Score: 1, MaxScore: 40},
	))
	assert.Equal(t, appErrors.ErrResultsLocked.Code, appErrors.FromError(err).Code)
	assert.Empty(t, cache.calls)
}

func TestBulkUpsertPayloadValidation(t *testing.T) {
	svc, _, _ := newScoreFixture()
	_, err := svc.BulkUpsert(context.Background(), "t1", BulkScoresRequest{TermID: "term-1", ClassID: "jss1", EnteredBy: "x"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestStudentScoresRequiresTerm(t *testing.T) {
	svc, _, _ := newScoreFixture()
	_, err := svc.StudentScores(context.Background(), "t1", "s1", "", "")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestBulkUpsertRefreshesCachedRankings(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cacheSvc := NewCacheService(repository.NewCacheRepository(client, nil), NewMetricsService(), 10*time.Minute, nil, true)
	reads := queryScores()
	queries := NewResultQueryService(reads, &stubSubjects{}, &stubResultReader{}, cacheSvc, nil)
	subjects := &stubSubjects{subjects: []models.ClassSubject{{ID: "cs-eng", SubjectID: "eng"}}}
	scores := NewScoreService(&recordingScoreStore{}, subjects, cacheSvc, nil, nil)

	before, err := queries.Positions(context.Background(), queryScope)
	require.NoError(t, err)
	assert.Equal(t, 3, before["s2"])

	_, err = scores.BulkUpsert(context.Background(), "t1", scoreRequest(
		ScoreInput{StudentID: "s2", ClassSubjectID: "cs-eng", AssessmentTypeID: "exam", Score: 100, MaxScore: 100},
	))
	require.NoError(t, err)
	reads.class[3] = entry("s2", "eng", models.AssessmentCodeExam, 100, 100)

	after, err := queries.Positions(context.Background(), queryScope)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"s2": 1, "s1": 2, "s3": 2}, after)
	assert.Equal(t, 2, reads.classCalls)
}

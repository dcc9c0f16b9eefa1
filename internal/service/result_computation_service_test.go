package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

type stubScoreReader struct {
	entries []models.ScoreEntry
	err     error
}

func (s *stubScoreReader) ListByClassTerm(ctx context.Context, tenantID, termID, classID string) ([]models.ScoreEntry, error) {
	return s.entries, s.err
}

type stubRoster struct {
	students []string
}

func (s *stubRoster) StudentsInClass(ctx context.Context, tenantID, classID string) ([]string, error) {
	return s.students, nil
}

type stubSchemes struct {
	scheme *models.GradingScheme
	err    error
}

func (s *stubSchemes) Scheme(ctx context.Context, tenantID string) (*models.GradingScheme, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.scheme != nil {
		return s.scheme, nil
	}
	return &models.GradingScheme{TenantID: tenantID, IsDefault: true, Rules: models.DefaultGradingScheme()}, nil
}

// memoryResults mirrors the repository upserts: a row is rewritten only when a computed value changed.
type memoryResults struct {
	mu        sync.Mutex
	snapshots map[string]models.ResultSnapshot
	terms     map[string]models.TermResult
	published int
	lockErr   error
	saveErr   func(studentID string) error
	unlocked  bool
}

func newMemoryResults() *memoryResults {
	return &memoryResults{snapshots: map[string]models.ResultSnapshot{}, terms: map[string]models.TermResult{}}
}

func (m *memoryResults) LockClass(ctx context.Context, scope models.ResultScope) (func(), error) {
	if m.lockErr != nil {
		return nil, m.lockErr
	}
	return func() { m.unlocked = true }, nil
}

func (m *memoryResults) CountByStatus(ctx context.Context, scope models.ResultScope, status models.ResultStatus) (int, error) {
	if status == models.ResultStatusPublished {
		return m.published, nil
	}
	return len(m.terms), nil
}

func (m *memoryResults) SaveStudentResult(ctx context.Context, snapshots []models.ResultSnapshot, term *models.TermResult, computedAt time.Time) error {
	if m.saveErr != nil {
		if err := m.saveErr(term.StudentID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range snapshots {
		key := snap.StudentID + "/" + snap.SubjectID
		if existing, ok := m.snapshots[key]; ok {
			candidate := snap
			candidate.ID, candidate.ComputedAt = existing.ID, existing.ComputedAt
			if candidate == existing {
				continue
			}
			snap.ID = existing.ID
		} else {
			snap.ID = fmt.Sprintf("snap-%d", len(m.snapshots)+1)
		}
		snap.ComputedAt = computedAt
		m.snapshots[key] = snap
	}
	current := make(map[string]bool, len(snapshots))
	for _, snap := range snapshots {
		current[snap.SubjectID] = true
	}
	for key, snap := range m.snapshots {
		if snap.StudentID == term.StudentID && !current[snap.SubjectID] {
			delete(m.snapshots, key)
		}
	}
	row := *term
	if existing, ok := m.terms[row.StudentID]; ok {
		candidate := row
		candidate.ID, candidate.ComputedAt = existing.ID, existing.ComputedAt
		if candidate == existing {
			return nil
		}
		row.ID = existing.ID
	} else {
		row.ID = fmt.Sprintf("term-%d", len(m.terms)+1)
	}
	row.ComputedAt = computedAt
	m.terms[row.StudentID] = row
	return nil
}

func (m *memoryResults) ClearStudentResult(ctx context.Context, scope models.ResultScope, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, snap := range m.snapshots {
		if snap.StudentID == studentID {
			delete(m.snapshots, key)
		}
	}
	delete(m.terms, studentID)
	return nil
}

func (m *memoryResults) snapshotCopy() (map[string]models.ResultSnapshot, map[string]models.TermResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := make(map[string]models.ResultSnapshot, len(m.snapshots))
	for k, v := range m.snapshots {
		snaps[k] = v
	}
	terms := make(map[string]models.TermResult, len(m.terms))
	for k, v := range m.terms {
		terms[k] = v
	}
	return snaps, terms
}

type recordingInvalidator struct {
	calls []string
}

func (r *recordingInvalidator) InvalidateClass(ctx context.Context, tenantID, termID, classID string) error {
	r.calls = append(r.calls, tenantID+"/"+termID+"/"+classID)
	return nil
}

func entry(student, subject, code string, value, max float64) models.ScoreEntry {
	return models.ScoreEntry{StudentID: student, SubjectID: subject, ClassID: "jss1", TermID: "term-1", AssessmentCode: code, Score: value, MaxScore: max}
}

func classOfTen() ([]string, []models.ScoreEntry) {
	var roster []string
	var entries []models.ScoreEntry
	for i := 1; i <= 10; i++ {
		id := fmt.Sprintf("s%02d", i)
		roster = append(roster, id)
		if i == 5 {
			continue
		}
		entries = append(entries,
			entry(id, "math", "CA1", float64(10+i), 20), entry(id, "math", models.AssessmentCodeExam, float64(30+2*i), 60),
			entry(id, "eng", "CA1", 15, 20), entry(id, "eng", models.AssessmentCodeExam, float64(40+i), 60),
		)
	}
	return roster, entries
}

func newComputationFixture(roster []string, entries []models.ScoreEntry) (*ResultComputationService, *memoryResults, *recordingInvalidator) {
	results := newMemoryResults()
	cache := &recordingInvalidator{}
	svc := NewResultComputationService(&stubScoreReader{entries: entries}, &stubRoster{students: roster}, &stubSchemes{}, results, cache, 4, nil)
	return svc, results, cache
}

func TestComputeResultsIsolatesStudentFailures(t *testing.T) {
	roster, entries := classOfTen()
	svc, results, cache := newComputationFixture(roster, entries)

	var updates []models.ComputationProgress
	progress, err := svc.ComputeResults(context.Background(), "t1", models.ComputationRequest{TermID: "term-1", ClassID: "jss1"}, func(p models.ComputationProgress) {
		updates = append(updates, p)
	})
	require.NoError(t, err)

	assert.Equal(t, 10, progress.Total)
	assert.Equal(t, 9, progress.Processed)
	assert.Equal(t, 1, progress.Failed)
	assert.Equal(t, models.ComputationCompleted, progress.Status)
	assert.Equal(t, []string{"student s05: no scores found for student"}, progress.Errors)

	_, terms := results.snapshotCopy()
	assert.Len(t, terms, 9)
	assert.NotContains(t, terms, "s05")
	assert.Equal(t, 1, terms["s10"].Position)
	assert.Equal(t, 9, terms["s10"].TotalStudents)
	assert.True(t, results.unlocked)
	assert.Equal(t, []string{"t1/term-1/jss1"}, cache.calls)

	require.NotEmpty(t, updates)
	assert.Equal(t, models.ComputationCompleted, updates[len(updates)-1].Status)
}

func TestComputeResultsIsIdempotent(t *testing.T) {
	roster, entries := classOfTen()
	svc, results, _ := newComputationFixture(roster, entries)
	req := models.ComputationRequest{TermID: "term-1", ClassID: "jss1"}

	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	_, err := svc.ComputeResults(context.Background(), "t1", req, nil)
	require.NoError(t, err)
	firstSnaps, firstTerms := results.snapshotCopy()

	svc.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	_, err = svc.ComputeResults(context.Background(), "t1", req, nil)
	require.NoError(t, err)
	secondSnaps, secondTerms := results.snapshotCopy()

	assert.Equal(t, firstSnaps, secondSnaps)
	assert.Equal(t, firstTerms, secondTerms)
}

func TestRecomputeDropsResultsWithoutScores(t *testing.T) {
	roster, entries := classOfTen()
	reader := &stubScoreReader{entries: entries}
	results := newMemoryResults()
	svc := NewResultComputationService(reader, &stubRoster{students: roster}, &stubSchemes{}, results, nil, 4, nil)
	req := models.ComputationRequest{TermID: "term-1", ClassID: "jss1"}

	_, err := svc.ComputeResults(context.Background(), "t1", req, nil)
	require.NoError(t, err)

	var remaining []models.ScoreEntry
	for _, e := range entries {
		if e.StudentID == "s01" || (e.StudentID == "s02" && e.SubjectID == "eng") {
			continue
		}
		remaining = append(remaining, e)
	}
	reader.entries = remaining

	progress, err := svc.ComputeResults(context.Background(), "t1", req, nil)
	require.NoError(t, err)
	assert.Contains(t, progress.Errors, "student s01: no scores found for student")

	snaps, terms := results.snapshotCopy()
	assert.NotContains(t, terms, "s01")
	assert.NotContains(t, snaps, "s01/math")
	assert.NotContains(t, snaps, "s02/eng")
	assert.Contains(t, snaps, "s02/math")
	assert.Equal(t, 1, terms["s02"].TotalSubjects)
}

func TestComputeResultsHonoursSubset(t *testing.T) {
	roster, entries := classOfTen()
	svc, results, _ := newComputationFixture(roster, entries)

	progress, err := svc.ComputeResults(context.Background(), "t1", models.ComputationRequest{TermID: "term-1", ClassID: "jss1", StudentIDs: []string{"s01", "s02", "s02", "ghost"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 2, progress.Processed)
	assert.Equal(t, []string{"student ghost: not enrolled in class and has no scores"}, progress.Warnings)

	_, terms := results.snapshotCopy()
	assert.Len(t, terms, 2)
	// Positions are still relative to the whole class.
	assert.Equal(t, 9, terms["s01"].Position)
}

func TestComputeResultsRejectsPublishedClass(t *testing.T) {
	roster, entries := classOfTen()
	svc, results, _ := newComputationFixture(roster, entries)
	results.published = 3

	_, err := svc.ComputeResults(context.Background(), "t1", models.ComputationRequest{TermID: "term-1", ClassID: "jss1"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	assert.False(t, appErrors.IsTransient(err))
	_, terms := results.snapshotCopy()
	assert.Empty(t, terms)
}

func TestComputeResultsLockedIsTransient(t *testing.T) {
	svc, results, _ := newComputationFixture(nil, nil)
	results.lockErr = appErrors.ErrResultsLocked

	_, err := svc.ComputeResults(context.Background(), "t1", models.ComputationRequest{TermID: "term-1", ClassID: "jss1"}, nil)
	assert.True(t, errors.Is(err, appErrors.ErrResultsLocked))
	assert.True(t, appErrors.IsTransient(err))
}

func TestComputeResultsFailsJobWhenStorageIsDown(t *testing.T) {
	roster, entries := classOfTen()
	svc, results, _ := newComputationFixture(roster, entries)
	results.saveErr = func(string) error { return errors.New("connection refused") }

	_, err := svc.ComputeResults(context.Background(), "t1", models.ComputationRequest{TermID: "term-1", ClassID: "jss1"}, nil)
	require.Error(t, err)
	assert.True(t, appErrors.IsTransient(err))
}

func TestComputeResultsRecordsInvalidScores(t *testing.T) {
	entries := []models.ScoreEntry{
		entry("s1", "math", models.AssessmentCodeExam, 70, 60),
		entry("s2", "math", models.AssessmentCodeExam, 50, 60),
	}
	svc, results, _ := newComputationFixture([]string{"s1", "s2"}, entries)

	progress, err := svc.ComputeResults(context.Background(), "t1", models.ComputationRequest{TermID: "term-1", ClassID: "jss1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Processed)
	require.Len(t, progress.Errors, 1)
	assert.Contains(t, progress.Errors[0], "student s1: subject math: score 70 is outside [0, 60]")

	_, terms := results.snapshotCopy()
	assert.Equal(t, 1, terms["s2"].TotalStudents)
}

func TestComputeResultsStopsOnCancellation(t *testing.T) {
	roster, entries := classOfTen()
	svc, _, _ := newComputationFixture(roster, entries)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ComputeResults(ctx, "t1", models.ComputationRequest{TermID: "term-1", ClassID: "jss1"}, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

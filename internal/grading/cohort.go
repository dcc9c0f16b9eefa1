package grading

import (
	"fmt"
	"sort"

	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

// SubjectScore is a student's combined CA and exam score for one subject.
type SubjectScore struct {
	StudentID  string
	SubjectID  string
	CATotal    float64
	ExamScore  float64
	Total      float64
	Obtainable float64
}

// Cohort is the read-once view of a class's scores for a term. Rankings and statistics are
// computed up front so per-student assembly never re-scans the cohort. ClassRanks orders
// students by summed term total; ClassStats summarises term averages.
type Cohort struct {
	Subjects     []string
	Scores       map[string]map[string]*SubjectScore
	SubjectRanks map[string]map[string]int
	SubjectStats map[string]Statistics
	Averages     map[string]float64
	ClassRanks   map[string]int
	ClassStats   Statistics
	// Invalid holds students excluded from ranking because one of their entries failed validation.
	Invalid map[string]error
}

// BuildCohort groups entries by student and subject, drops students with invalid entries,
// and precomputes subject and class rankings. The class ranking uses each student's term
// total, so a student offering more subjects can outrank one with a higher average.
func BuildCohort(entries []models.ScoreEntry) *Cohort {
	c := &Cohort{
		Scores:       make(map[string]map[string]*SubjectScore),
		SubjectRanks: make(map[string]map[string]int),
		SubjectStats: make(map[string]Statistics),
		Averages:     make(map[string]float64),
		Invalid:      make(map[string]error),
	}

	for _, e := range entries {
		if _, bad := c.Invalid[e.StudentID]; bad {
			continue
		}
		if err := ValidateScore(e.Score, e.MaxScore); err != nil {
			c.Invalid[e.StudentID] = fmt.Errorf("subject %s: %w", e.SubjectID, err)
			delete(c.Scores, e.StudentID)
			continue
		}
		bySubject, ok := c.Scores[e.StudentID]
		if !ok {
			bySubject = make(map[string]*SubjectScore)
			c.Scores[e.StudentID] = bySubject
		}
		ss, ok := bySubject[e.SubjectID]
		if !ok {
			ss = &SubjectScore{StudentID: e.StudentID, SubjectID: e.SubjectID}
			bySubject[e.SubjectID] = ss
		}
		if e.IsExam() {
			ss.ExamScore += e.Score
		} else {
			ss.CATotal += e.Score
		}
		ss.Total = ss.CATotal + ss.ExamScore
		ss.Obtainable += e.MaxScore
	}

	subjectEntries := make(map[string][]Entry)
	subjectTotals := make(map[string][]float64)
	classEntries := make([]Entry, 0, len(c.Scores))
	classAverages := make([]float64, 0, len(c.Scores))
	for studentID, bySubject := range c.Scores {
		sum := 0.0
		for subjectID, ss := range bySubject {
			subjectEntries[subjectID] = append(subjectEntries[subjectID], Entry{ID: studentID, Score: ss.Total})
			subjectTotals[subjectID] = append(subjectTotals[subjectID], ss.Total)
			sum += ss.Total
		}
		avg := Round2(sum / float64(len(bySubject)))
		c.Averages[studentID] = avg
		classEntries = append(classEntries, Entry{ID: studentID, Score: Round2(sum)})
		classAverages = append(classAverages, avg)
	}

	for subjectID, ranked := range subjectEntries {
		c.Subjects = append(c.Subjects, subjectID)
		c.SubjectRanks[subjectID] = RankWithin(ranked)
		c.SubjectStats[subjectID] = ClassStatistics(subjectTotals[subjectID])
	}
	sort.Strings(c.Subjects)
	c.ClassRanks = RankWithin(classEntries)
	c.ClassStats = ClassStatistics(classAverages)
	return c
}

// Size is the number of ranked students.
func (c *Cohort) Size() int {
	return len(c.ClassRanks)
}

// StudentIDs returns the ranked students in ascending ID order.
func (c *Cohort) StudentIDs() []string {
	ids := make([]string, 0, len(c.Scores))
	for id := range c.Scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Outcome is everything computed for a single student.
type Outcome struct {
	Snapshots []models.ResultSnapshot
	Term      models.TermResult
	Warnings  []string
}

// Assemble builds a student's subject snapshots and term aggregate from the cohort.
func (c *Cohort) Assemble(scope models.ResultScope, studentID string, rules []models.GradeRule) (*Outcome, error) {
	if err, bad := c.Invalid[studentID]; bad {
		return nil, err
	}
	bySubject, ok := c.Scores[studentID]
	if !ok || len(bySubject) == 0 {
		return nil, appErrors.ErrNoScores
	}

	lowest, _ := LowestBand(rules)
	subjectIDs := make([]string, 0, len(bySubject))
	for id := range bySubject {
		subjectIDs = append(subjectIDs, id)
	}
	sort.Strings(subjectIDs)

	out := &Outcome{Snapshots: make([]models.ResultSnapshot, 0, len(subjectIDs))}
	var total, obtainable, points float64
	failed := 0
	for _, subjectID := range subjectIDs {
		ss := bySubject[subjectID]
		grade := GradeFor(ss.Total, rules)
		if grade.Warning {
			out.Warnings = append(out.Warnings, fmt.Sprintf("student %s: subject %s total %v matched no grading band; used %s", studentID, subjectID, ss.Total, grade.Grade))
		}
		if grade.Grade == lowest.Grade {
			failed++
		}
		stats := c.SubjectStats[subjectID]
		out.Snapshots = append(out.Snapshots, models.ResultSnapshot{
			TenantID:     scope.TenantID,
			StudentID:    studentID,
			TermID:       scope.TermID,
			ClassID:      scope.ClassID,
			SubjectID:    subjectID,
			CATotal:      ss.CATotal,
			ExamScore:    ss.ExamScore,
			TotalScore:   ss.Total,
			Grade:        grade.Grade,
			Remark:       grade.Remark,
			Points:       grade.Points,
			ClassAverage: stats.Average,
			HighestScore: stats.Highest,
			LowestScore:  stats.Lowest,
			Position:     c.SubjectRanks[subjectID][studentID],
			Status:       models.ResultStatusComputed,
		})
		total += ss.Total
		obtainable += ss.Obtainable
		points += grade.Points
	}

	count := len(subjectIDs)
	average := c.Averages[studentID]
	overall := GradeFor(average, rules)
	if overall.Warning {
		out.Warnings = append(out.Warnings, fmt.Sprintf("student %s: average %v matched no grading band; used %s", studentID, average, overall.Grade))
	}
	position := c.ClassRanks[studentID]
	out.Term = models.TermResult{
		TenantID:        scope.TenantID,
		StudentID:       studentID,
		TermID:          scope.TermID,
		ClassID:         scope.ClassID,
		TotalScore:      total,
		TotalObtainable: obtainable,
		Average:         average,
		PointsAverage:   Round2(points / float64(count)),
		TotalSubjects:   count,
		Position:        position,
		Grade:           overall.Grade,
		PromotionStatus: PromotionStatus(average, failed, count),
		TeacherRemark:   AutomatedRemark(average, position, c.Size()),
		TotalStudents:   c.Size(),
		Status:          models.ResultStatusComputed,
	}
	return out, nil
}

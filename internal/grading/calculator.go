// Package grading holds the pure result-computation rules: score validation, grade lookup,
// competition ranking, cohort statistics, promotion and remarks. Nothing here touches I/O,
// and the grading scheme is always passed in.
package grading

import (
	"fmt"
	"math"
	"sort"

	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

// Result is the outcome of a grade lookup.
type Result struct {
	Grade  string
	Remark string
	Points float64
	// Warning is set when no band matched and the lowest band was used instead.
	Warning bool
}

// Entry is one ranked participant.
type Entry struct {
	ID    string
	Score float64
}

// Statistics describes a cohort's score distribution.
type Statistics struct {
	Average float64
	Highest float64
	Lowest  float64
	Count   int
}

// Round2 rounds half-to-even at two decimal places.
func Round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// ValidateScore checks that value is a whole number within [0, max].
func ValidateScore(value, max float64) error {
	if max <= 0 || max != math.Trunc(max) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("max score %v must be a positive whole number", max))
	}
	if math.IsNaN(value) || value < 0 || value > max {
		return appErrors.Clone(appErrors.ErrScoreOutOfRange, fmt.Sprintf("score %v is outside [0, %v]", value, max))
	}
	if value != math.Trunc(value) {
		return appErrors.Clone(appErrors.ErrScoreNonIntegral, fmt.Sprintf("score %v must be a whole number", value))
	}
	return nil
}

// ValidateScheme ensures rules form contiguous, non-overlapping bands covering 0 to 100.
func ValidateScheme(rules []models.GradeRule) error {
	if len(rules) == 0 {
		return appErrors.Clone(appErrors.ErrInvalidScheme, "grading scheme has no rules")
	}
	sorted := sortedAscending(rules)
	if sorted[0].MinScore != 0 {
		return appErrors.Clone(appErrors.ErrInvalidScheme, "lowest band must start at 0")
	}
	seen := make(map[string]struct{}, len(sorted))
	for i, rule := range sorted {
		if rule.Grade == "" {
			return appErrors.Clone(appErrors.ErrInvalidScheme, fmt.Sprintf("band %d-%d has no grade", rule.MinScore, rule.MaxScore))
		}
		if _, dup := seen[rule.Grade]; dup {
			return appErrors.Clone(appErrors.ErrInvalidScheme, fmt.Sprintf("grade %s appears twice", rule.Grade))
		}
		seen[rule.Grade] = struct{}{}
		if rule.MaxScore < rule.MinScore {
			return appErrors.Clone(appErrors.ErrInvalidScheme, fmt.Sprintf("band %s has max below min", rule.Grade))
		}
		if i > 0 && rule.MinScore != sorted[i-1].MaxScore+1 {
			return appErrors.Clone(appErrors.ErrInvalidScheme, fmt.Sprintf("band %s does not follow %s", rule.Grade, sorted[i-1].Grade))
		}
	}
	if sorted[len(sorted)-1].MaxScore != 100 {
		return appErrors.Clone(appErrors.ErrInvalidScheme, "highest band must end at 100")
	}
	return nil
}

// GradeFor maps total onto the band containing it. Bands are inclusive integer ranges, so a
// fractional total belongs to the band of its integer part.
func GradeFor(total float64, rules []models.GradeRule) Result {
	for _, rule := range rules {
		if total >= float64(rule.MinScore) && total < float64(rule.MaxScore)+1 {
			return Result{Grade: rule.Grade, Remark: rule.Remark, Points: rule.Points}
		}
	}
	lowest, ok := LowestBand(rules)
	if !ok {
		return Result{Warning: true}
	}
	return Result{Grade: lowest.Grade, Remark: lowest.Remark, Points: lowest.Points, Warning: true}
}

// LowestBand returns the rule with the smallest minimum score.
func LowestBand(rules []models.GradeRule) (models.GradeRule, bool) {
	if len(rules) == 0 {
		return models.GradeRule{}, false
	}
	lowest := rules[0]
	for _, rule := range rules[1:] {
		if rule.MinScore < lowest.MinScore {
			lowest = rule
		}
	}
	return lowest, true
}

// RankWithin assigns competition ranks: ties share a position and the next distinct score
// skips by the size of the tie group.
func RankWithin(entries []Entry) map[string]int {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})

	positions := make(map[string]int, len(sorted))
	current, tied := 1, 0
	for i, entry := range sorted {
		if i > 0 && entry.Score < sorted[i-1].Score {
			current += tied
			tied = 0
		}
		tied++
		positions[entry.ID] = current
	}
	return positions
}

// ClassStatistics computes average, highest and lowest of scores. An empty cohort yields zeros.
func ClassStatistics(scores []float64) Statistics {
	if len(scores) == 0 {
		return Statistics{}
	}
	sum := 0.0
	highest, lowest := scores[0], scores[0]
	for _, s := range scores {
		sum += s
		if s > highest {
			highest = s
		}
		if s < lowest {
			lowest = s
		}
	}
	return Statistics{
		Average: Round2(sum / float64(len(scores))),
		Highest: highest,
		Lowest:  lowest,
		Count:   len(scores),
	}
}

// PromotionStatus decides progression. Promotion is checked before trial promotion.
func PromotionStatus(average float64, failedSubjects, totalSubjects int) models.PromotionStatus {
	if totalSubjects <= 0 {
		return models.PromotionRepeat
	}
	if average >= 50 && failedSubjects == 0 {
		return models.PromotionPromoted
	}
	if average >= 45 && failedSubjects <= 2 && float64(failedSubjects)/float64(totalSubjects) <= 0.25 {
		return models.PromotionPromotedOnTrial
	}
	return models.PromotionRepeat
}

// AutomatedRemark builds the teacher remark for an average, adding a standing clause for the
// top tenth of the cohort.
func AutomatedRemark(average float64, position, cohortSize int) string {
	var remark string
	switch {
	case average >= 80:
		remark = "Excellent performance. Keep up the outstanding work!"
	case average >= 70:
		remark = "Very good performance. Continue to strive for excellence."
	case average >= 60:
		remark = "Good performance. There is room for improvement."
	case average >= 50:
		remark = "Fair performance. More effort is required."
	case average >= 40:
		remark = "Weak performance. Considerable improvement needed."
	default:
		remark = "Poor performance. Urgent attention required."
	}
	if cohortSize > 0 && position >= 1 && position <= int(math.Ceil(float64(cohortSize)*0.1)) {
		remark += " Excellent class standing."
	}
	return remark
}

func sortedAscending(rules []models.GradeRule) []models.GradeRule {
	sorted := append([]models.GradeRule(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinScore < sorted[j].MinScore })
	return sorted
}

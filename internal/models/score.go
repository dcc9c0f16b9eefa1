package models

import "time"

// ScoreReviewStatus tracks the review lifecycle of a score entry.
type ScoreReviewStatus string

const (
	ScoreStatusPending   ScoreReviewStatus = "pending"
	ScoreStatusVerified  ScoreReviewStatus = "verified"
	ScoreStatusPublished ScoreReviewStatus = "published"
)

// AssessmentCodeExam identifies the terminal examination; every other code counts as continuous assessment.
const AssessmentCodeExam = "EXAM"

// ScoreEntry is a raw teacher-entered score for one assessment of a subject offering.
type ScoreEntry struct {
	ID               string            `db:"id" json:"id"`
	TenantID         string            `db:"tenant_id" json:"tenant_id"`
	StudentID        string            `db:"student_id" json:"student_id"`
	ClassSubjectID   string            `db:"class_subject_id" json:"class_subject_id"`
	TermID           string            `db:"term_id" json:"term_id"`
	AssessmentTypeID string            `db:"assessment_type_id" json:"assessment_type_id"`
	Score            float64           `db:"score" json:"score"`
	MaxScore         float64           `db:"max_score" json:"max_score"`
	EnteredBy        string            `db:"entered_by" json:"entered_by"`
	EnteredAt        time.Time         `db:"entered_at" json:"entered_at"`
	Status           ScoreReviewStatus `db:"status" json:"status"`

	// Populated by joins on read.
	ClassID        string `db:"class_id" json:"class_id,omitempty"`
	SubjectID      string `db:"subject_id" json:"subject_id,omitempty"`
	AssessmentCode string `db:"assessment_code" json:"assessment_code,omitempty"`
}

// IsExam reports whether the entry is the examination component.
func (s ScoreEntry) IsExam() bool {
	return s.AssessmentCode == AssessmentCodeExam
}

// ClassSubject is a subject offered to a class (a subject offering).
type ClassSubject struct {
	ID        string `db:"id" json:"id"`
	TenantID  string `db:"tenant_id" json:"tenant_id"`
	ClassID   string `db:"class_id" json:"class_id"`
	SubjectID string `db:"subject_id" json:"subject_id"`
}

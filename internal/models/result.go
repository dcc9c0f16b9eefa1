package models

import "time"

// ResultStatus captures the visibility lifecycle of computed results.
type ResultStatus string

const (
	ResultStatusComputed  ResultStatus = "computed"
	ResultStatusPublished ResultStatus = "published"
)

// PromotionStatus is the end-of-term progression decision.
type PromotionStatus string

const (
	PromotionPromoted        PromotionStatus = "PROMOTED"
	PromotionPromotedOnTrial PromotionStatus = "PROMOTED_ON_TRIAL"
	PromotionRepeat          PromotionStatus = "REPEAT"
)

// ResultSnapshot is the computed result of one student in one subject for a term.
type ResultSnapshot struct {
	ID           string       `db:"id" json:"id"`
	TenantID     string       `db:"tenant_id" json:"tenant_id"`
	StudentID    string       `db:"student_id" json:"student_id"`
	TermID       string       `db:"term_id" json:"term_id"`
	ClassID      string       `db:"class_id" json:"class_id"`
	SubjectID    string       `db:"subject_id" json:"subject_id"`
	CATotal      float64      `db:"ca_total" json:"ca_total"`
	ExamScore    float64      `db:"exam_score" json:"exam_score"`
	TotalScore   float64      `db:"total_score" json:"total_score"`
	Grade        string       `db:"grade" json:"grade"`
	Remark       string       `db:"remark" json:"remark"`
	Points       float64      `db:"points" json:"points"`
	ClassAverage float64      `db:"class_average" json:"class_average"`
	HighestScore float64      `db:"highest_score" json:"highest_score"`
	LowestScore  float64      `db:"lowest_score" json:"lowest_score"`
	Position     int          `db:"position" json:"position"`
	Status       ResultStatus `db:"status" json:"status"`
	ComputedAt   time.Time    `db:"computed_at" json:"computed_at"`
	PublishedAt  *time.Time   `db:"published_at" json:"published_at,omitempty"`
}

// TermResult is a student's aggregate result across all subjects for a term.
type TermResult struct {
	ID              string          `db:"id" json:"id"`
	TenantID        string          `db:"tenant_id" json:"tenant_id"`
	StudentID       string          `db:"student_id" json:"student_id"`
	TermID          string          `db:"term_id" json:"term_id"`
	ClassID         string          `db:"class_id" json:"class_id"`
	TotalScore      float64         `db:"total_score" json:"total_score"`
	TotalObtainable float64         `db:"total_obtainable" json:"total_obtainable"`
	Average         float64         `db:"average" json:"average"`
	PointsAverage   float64         `db:"points_average" json:"points_average"`
	TotalSubjects   int             `db:"total_subjects" json:"total_subjects"`
	Position        int             `db:"position" json:"position"`
	Grade           string          `db:"grade" json:"grade"`
	PromotionStatus PromotionStatus `db:"promotion_status" json:"promotion_status"`
	TeacherRemark   string          `db:"teacher_remark" json:"teacher_remark"`
	TotalStudents   int             `db:"total_students" json:"total_students"`
	Status          ResultStatus    `db:"status" json:"status"`
	ComputedAt      time.Time       `db:"computed_at" json:"computed_at"`
	PublishedAt     *time.Time      `db:"published_at" json:"published_at,omitempty"`
}

// ResultScope identifies a term result set for one class.
type ResultScope struct {
	TenantID string
	TermID   string
	ClassID  string
}

// ClassStatistics summarises a cohort's scores.
type ClassStatistics struct {
	SubjectID string  `json:"subject_id,omitempty"`
	Count     int     `json:"count"`
	Average   float64 `json:"average"`
	Highest   float64 `json:"highest"`
	Lowest    float64 `json:"lowest"`
}

// StudentTermReport bundles a student's aggregate with the per-subject snapshots.
type StudentTermReport struct {
	Result   *TermResult      `json:"result"`
	Subjects []ResultSnapshot `json:"subjects"`
}

// BroadsheetRow is one student's line on the class broadsheet.
type BroadsheetRow struct {
	StudentID string                    `json:"student_id"`
	Subjects  map[string]ResultSnapshot `json:"subjects"`
	Average   float64                   `json:"average"`
	Position  int                       `json:"position"`
	Grade     string                    `json:"grade"`
	Status    ResultStatus              `json:"status"`
}

// Broadsheet is the class-wide matrix of computed results.
type Broadsheet struct {
	TermID   string          `json:"term_id"`
	ClassID  string          `json:"class_id"`
	Subjects []string        `json:"subjects"`
	Students []BroadsheetRow `json:"students"`
}

// ResultsPublished is emitted once a class result set becomes visible.
type ResultsPublished struct {
	TenantID    string    `json:"tenant_id"`
	TermID      string    `json:"term_id"`
	ClassID     string    `json:"class_id"`
	StudentIDs  []string  `json:"student_ids"`
	PublishedAt time.Time `json:"published_at"`
}

// StudentResultNotification asks the communication service to notify one student's guardians.
type StudentResultNotification struct {
	TenantID  string `json:"tenant_id"`
	TermID    string `json:"term_id"`
	ClassID   string `json:"class_id"`
	StudentID string `json:"student_id"`
}

package models

import "time"

// JobState enumerates computation job lifecycle states.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// ComputationStatus reports the orchestrator's view of a run.
type ComputationStatus string

const (
	ComputationPending    ComputationStatus = "PENDING"
	ComputationProcessing ComputationStatus = "PROCESSING"
	ComputationCompleted  ComputationStatus = "COMPLETED"
	ComputationFailed     ComputationStatus = "FAILED"
)

// ComputationRequest scopes a result computation to a term and class, optionally to a student subset.
type ComputationRequest struct {
	TermID     string   `json:"term_id" validate:"required"`
	ClassID    string   `json:"class_id" validate:"required"`
	StudentIDs []string `json:"student_ids,omitempty" validate:"omitempty,dive,required"`
}

// ComputationProgress carries per-run counters and per-student failures.
type ComputationProgress struct {
	Total     int               `json:"total"`
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Status    ComputationStatus `json:"status"`
	Errors    []string          `json:"errors"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// ComputationJob is the transient record the dispatcher keeps for polling.
type ComputationJob struct {
	ID          string              `json:"id"`
	TenantID    string              `json:"tenant_id"`
	Request     ComputationRequest  `json:"request"`
	State       JobState            `json:"state"`
	Attempts    int                 `json:"attempts"`
	MaxAttempts int                 `json:"max_attempts"`
	Progress    ComputationProgress `json:"progress"`
	LastError   string              `json:"last_error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j ComputationJob) Terminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed
}

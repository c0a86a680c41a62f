package models

import (
	"time"
)

// JobStatus represents the state of a voice-training job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal returns true for statuses that never change again
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid returns true for a recognized status value
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// TrainingJob represents one voice-training run against an external provider.
// Jobs are created when a (subject, category) contribution counter crosses its
// threshold, run asynchronously, and are retained indefinitely for audit and
// cost reporting. Terminal jobs are never mutated; a later threshold crossing
// creates a new job.
type TrainingJob struct {
	ID           string     `json:"id"`
	SubjectID    string     `json:"subject_id"` // owning narrator profile
	Category     string     `json:"category"`   // emotion category ("joy", "sorrow", ...)
	Status       JobStatus  `json:"status"`
	Provider     string     `json:"provider,omitempty"` // provider that accepted the work
	VoiceID      string     `json:"voice_id,omitempty"` // provider-side voice id on success
	SampleCount  int        `json:"sample_count"`
	CostEstimate float64    `json:"cost_estimate"` // projected cost at creation time
	ActualCost   float64    `json:"actual_cost"`   // reported by the provider on success
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	// Metadata carries provider-specific detail for audit (request ids,
	// model versions). Never interpreted by the orchestrator.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Duration returns wall time from start to completion, zero when not finished
func (j *TrainingJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

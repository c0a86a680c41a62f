package models

import (
	"time"
)

// ContributionCounter accumulates voice contributions for one (subject, category)
// pair. The counter resets to zero only when a training job for the pair
// completes successfully; failed jobs preserve the count so accumulated
// contributions still count toward the next attempt.
type ContributionCounter struct {
	Key       string    `json:"key"` // subjectID/category
	SubjectID string    `json:"subject_id"`
	Category  string    `json:"category"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CounterKey builds the storage key for a contribution counter
func CounterKey(subjectID, category string) string {
	return subjectID + "/" + category
}

// ContributionResult reports the outcome of recording one contribution
type ContributionResult struct {
	SubjectID  string `json:"subject_id"`
	Category   string `json:"category"`
	Count      int    `json:"count"`
	Threshold  int    `json:"threshold"`
	JobCreated bool   `json:"job_created"`
	JobID      string `json:"job_id,omitempty"`
}

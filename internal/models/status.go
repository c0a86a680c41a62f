package models

import (
	"time"
)

// AppState is the coarse service state reported to callers
type AppState string

const (
	AppStateStarting AppState = "starting"
	AppStateIdle     AppState = "idle"
	AppStateTraining AppState = "training"
)

// AppStatus is a point-in-time snapshot of service activity, maintained by the
// status service from published job events.
type AppStatus struct {
	State      AppState  `json:"state"`
	ActiveJobs int       `json:"active_jobs"`
	LastJobID  string    `json:"last_job_id,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

package models

import (
	"time"
)

// NotificationKind classifies an outbound notification
type NotificationKind string

const (
	NotificationJobCompleted NotificationKind = "job_completed"
	NotificationJobFailed    NotificationKind = "job_failed"
)

// Notification is the payload handed to the outbound notifier. Rendering and
// delivery (email, SMS, push) live outside this service behind the Notifier
// interface.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	SubjectID string           `json:"subject_id"`
	Category  string           `json:"category"`
	JobID     string           `json:"job_id"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

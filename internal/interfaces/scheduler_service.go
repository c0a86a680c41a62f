package interfaces

import "time"

// ScheduledTaskStatus represents the current status of a scheduled task
type ScheduledTaskStatus struct {
	Name      string
	Enabled   bool
	Schedule  string
	LastRun   *time.Time
	NextRun   *time.Time
	IsRunning bool
	LastError string
}

// SchedulerService manages cron-based maintenance tasks: the stale-job sweep,
// the provider health sweep, and storage garbage collection.
type SchedulerService interface {
	// Start begins running registered tasks on their schedules
	Start() error

	// Stop halts the scheduler and waits for running tasks
	Stop() error

	// RegisterTask registers a task with a cron schedule
	RegisterTask(name string, schedule string, handler func() error) error

	// TriggerNow runs a registered task immediately, off schedule
	TriggerNow(name string) error

	// IsRunning returns true if the scheduler is active
	IsRunning() bool

	// GetTaskStatus returns the status of a specific task
	GetTaskStatus(name string) (*ScheduledTaskStatus, error)

	// GetAllTaskStatuses returns all task statuses keyed by name
	GetAllTaskStatuses() map[string]*ScheduledTaskStatus
}

package interfaces

import (
	"context"
	"time"
)

// EventType represents different event types in the system
type EventType string

const (
	EventContributionRecorded EventType = "contribution.recorded"
	EventJobCreated           EventType = "job.created"
	EventJobStarted           EventType = "job.started"
	EventJobCompleted         EventType = "job.completed"
	EventJobFailed            EventType = "job.failed"

	// EventTypeWildcard receives every published event
	EventTypeWildcard EventType = "*"
)

// Event represents a system event. Events are appended to a bounded in-memory
// log for observability before handlers run.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// EventHandler is a function that handles events. Handler errors are logged
// and isolated; they never reach the publisher or later handlers.
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the in-process pub/sub event bus
type EventService interface {
	// Subscribe registers a handler for an event type. Subscribing to
	// EventTypeWildcard receives every event. Handlers for one type run in
	// subscription order.
	Subscribe(eventType EventType, handler EventHandler) error

	// Unsubscribe removes all handlers registered for an event type
	Unsubscribe(eventType EventType)

	// Publish appends the event to the log, then invokes type handlers and
	// wildcard handlers sequentially, awaiting each before returning
	Publish(ctx context.Context, event Event) error

	// GetEventLog returns a chronological snapshot of the bounded event log
	GetEventLog() []Event

	// Close shuts down the event service; further publishes fail
	Close() error
}

package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		// Extract common fields from payload if available
		var jobID, subjectID, category, status string
		if event.Payload != nil {
			if id, ok := event.Payload["job_id"].(string); ok {
				jobID = id
			}
			if id, ok := event.Payload["subject_id"].(string); ok {
				subjectID = id
			}
			if c, ok := event.Payload["category"].(string); ok {
				category = c
			}
			if st, ok := event.Payload["status"].(string); ok {
				status = st
			}
		}

		logEvent := logger.Debug().
			Str("event_type", string(event.Type)).
			Str("event_id", event.ID)

		if jobID != "" {
			logEvent = logEvent.Str("job_id", jobID)
		}
		if subjectID != "" {
			logEvent = logEvent.Str("subject_id", subjectID)
		}
		if category != "" {
			logEvent = logEvent.Str("category", category)
		}
		if status != "" {
			logEvent = logEvent.Str("status", status)
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents attaches the logging subscriber to every event
// type via the wildcard subscription
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	if err := eventService.Subscribe(interfaces.EventTypeWildcard, NewLoggerSubscriber(logger)); err != nil {
		return fmt.Errorf("failed to subscribe logger to events: %w", err)
	}

	logger.Debug().Msg("Logger subscribed to all event types")
	return nil
}

package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/narro/internal/interfaces"
	"github.com/ternarybob/narro/internal/models"
)

// Service turns job lifecycle events into outbound notifications. Delivery
// failures are logged and swallowed; a notification problem must never affect
// job bookkeeping.
type Service struct {
	events   interfaces.EventService
	notifier interfaces.Notifier
	logger   arbor.ILogger

	mu     sync.RWMutex
	closed bool
}

// NewService creates the notification bridge. A nil notifier falls back to the
// noop implementation so callers never check for one.
func NewService(events interfaces.EventService, notifier interfaces.Notifier, logger arbor.ILogger) interfaces.NotificationService {
	if notifier == nil {
		notifier = NewNoopNotifier(logger)
	}
	return &Service{
		events:   events,
		notifier: notifier,
		logger:   logger,
	}
}

// Start subscribes to terminal job events on the bus
func (s *Service) Start() error {
	if err := s.events.Subscribe(interfaces.EventJobCompleted, s.onJobEvent); err != nil {
		return err
	}
	if err := s.events.Subscribe(interfaces.EventJobFailed, s.onJobEvent); err != nil {
		return err
	}
	s.logger.Debug().Msg("Notification service subscribed to job events")
	return nil
}

func (s *Service) onJobEvent(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil
	}

	notification := buildNotification(event)
	if err := s.notifier.Notify(ctx, notification); err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", notification.JobID).
			Str("kind", string(notification.Kind)).
			Msg("Notification delivery failed")
	}
	return nil
}

// buildNotification maps a terminal job event onto the notifier payload
func buildNotification(event interfaces.Event) models.Notification {
	jobID, _ := event.Payload["job_id"].(string)
	subjectID, _ := event.Payload["subject_id"].(string)
	category, _ := event.Payload["category"].(string)
	errText, _ := event.Payload["error"].(string)

	notification := models.Notification{
		SubjectID: subjectID,
		Category:  category,
		JobID:     jobID,
		CreatedAt: time.Now(),
	}

	if event.Type == interfaces.EventJobFailed {
		notification.Kind = models.NotificationJobFailed
		notification.Message = fmt.Sprintf("Voice training for %s/%s failed: %s", subjectID, category, errText)
	} else {
		notification.Kind = models.NotificationJobCompleted
		notification.Message = fmt.Sprintf("Voice training for %s/%s completed", subjectID, category)
	}
	return notification
}

// Close stops handing events to the notifier. The bus itself is closed by the
// app during shutdown.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// noopNotifier is used when no delivery transport is configured
type noopNotifier struct {
	logger arbor.ILogger
}

// NewNoopNotifier returns a notifier that logs and drops every notification
func NewNoopNotifier(logger arbor.ILogger) interfaces.Notifier {
	return &noopNotifier{logger: logger}
}

func (n *noopNotifier) Notify(ctx context.Context, notification models.Notification) error {
	n.logger.Debug().
		Str("kind", string(notification.Kind)).
		Str("job_id", notification.JobID).
		Msg("Notification suppressed (no notifier configured)")
	return nil
}

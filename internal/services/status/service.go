package status

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/narro/internal/interfaces"
	"github.com/ternarybob/narro/internal/models"
)

// Service maintains a live snapshot of service activity from published job
// events. It never calls back into the orchestrator; everything it knows
// arrives on the bus.
type Service struct {
	mu     sync.RWMutex
	status models.AppStatus
	closed bool

	events interfaces.EventService
	logger arbor.ILogger
}

// NewService creates a new StatusService
func NewService(events interfaces.EventService, logger arbor.ILogger) interfaces.StatusService {
	now := time.Now()
	return &Service{
		status: models.AppStatus{
			State:     models.AppStateStarting,
			StartedAt: now,
			UpdatedAt: now,
		},
		events: events,
		logger: logger,
	}
}

// Start subscribes to job events and marks the service idle
func (s *Service) Start() error {
	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobCreated,
		interfaces.EventJobCompleted,
		interfaces.EventJobFailed,
	} {
		if err := s.events.Subscribe(eventType, s.onJobEvent); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.status.State == models.AppStateStarting {
		s.status.State = models.AppStateIdle
		s.status.UpdatedAt = time.Now()
	}
	s.mu.Unlock()

	s.logger.Debug().Msg("Status service subscribed to job events")
	return nil
}

func (s *Service) onJobEvent(ctx context.Context, event interfaces.Event) error {
	jobID, _ := event.Payload["job_id"].(string)
	errText, _ := event.Payload["error"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	switch event.Type {
	case interfaces.EventJobCreated:
		s.status.ActiveJobs++
		s.status.State = models.AppStateTraining
		s.status.LastJobID = jobID

	case interfaces.EventJobCompleted, interfaces.EventJobFailed:
		// Jobs failed by the stale sweep may predate this process, so the
		// counter clamps at zero instead of going negative
		if s.status.ActiveJobs > 0 {
			s.status.ActiveJobs--
		}
		if s.status.ActiveJobs == 0 {
			s.status.State = models.AppStateIdle
		}
		if jobID != "" {
			s.status.LastJobID = jobID
		}
		if event.Type == interfaces.EventJobFailed && errText != "" {
			s.status.LastError = errText
		}
	}

	s.status.UpdatedAt = time.Now()
	return nil
}

// GetStatus returns the current snapshot
func (s *Service) GetStatus() models.AppStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Close stops applying events; the snapshot freezes at its last value. The
// bus itself is closed by the app during shutdown.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/common"
	"github.com/ternarybob/narro/internal/interfaces"
)

// Service implements the EventService interface with an in-process pub/sub
// bus and a bounded in-memory event log. Publish awaits every handler for an
// event before returning; handler failures are logged and isolated.
type Service struct {
	subscribers map[interfaces.EventType][]interfaces.EventHandler
	log         []interfaces.Event
	logNext     int
	logFull     bool
	closed      bool
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new event service. logSize bounds the event log; the
// oldest entries are overwritten once the buffer fills.
func NewService(logSize int, logger arbor.ILogger) interfaces.EventService {
	if logSize <= 0 {
		logSize = 512
	}
	return &Service{
		subscribers: make(map[interfaces.EventType][]interfaces.EventHandler),
		log:         make([]interfaces.Event, logSize),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type. Handlers for one type run
// in subscription order.
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("event service is closed")
	}

	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("handler_count", len(s.subscribers[eventType])).
		Msg("Subscribed to event type")

	return nil
}

// Unsubscribe removes all handlers registered for an event type
func (s *Service) Unsubscribe(eventType interfaces.EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.subscribers[eventType])
	delete(s.subscribers, eventType)

	if removed > 0 {
		s.logger.Debug().
			Str("event_type", string(eventType)).
			Int("removed", removed).
			Msg("Unsubscribed all handlers from event type")
	}
}

// Publish appends the event to the log, then invokes type-specific handlers
// followed by wildcard handlers, each in subscription order. Every handler is
// awaited; a handler error or panic never stops later handlers and never
// reaches the publisher.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	// Stamp identity up front so the log is complete even with no subscribers
	if event.ID == "" {
		event.ID = common.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("event service is closed")
	}

	s.appendToLog(event)

	handlers := make([]interfaces.EventHandler, 0, len(s.subscribers[event.Type])+len(s.subscribers[interfaces.EventTypeWildcard]))
	handlers = append(handlers, s.subscribers[event.Type]...)
	if event.Type != interfaces.EventTypeWildcard {
		handlers = append(handlers, s.subscribers[interfaces.EventTypeWildcard]...)
	}
	s.mu.Unlock()

	for _, handler := range handlers {
		s.invokeHandler(ctx, handler, event)
	}

	return nil
}

// invokeHandler runs one handler with error and panic isolation
func (s *Service) invokeHandler(ctx context.Context, handler interfaces.EventHandler, event interfaces.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("event_type", string(event.Type)).
				Str("event_id", event.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Event handler panicked")
		}
	}()

	if err := handler(ctx, event); err != nil {
		s.logger.Error().
			Err(err).
			Str("event_type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Event handler failed")
	}
}

// appendToLog writes into the ring buffer. Caller holds the write lock.
func (s *Service) appendToLog(event interfaces.Event) {
	s.log[s.logNext] = event
	s.logNext++
	if s.logNext == len(s.log) {
		s.logNext = 0
		s.logFull = true
	}
}

// GetEventLog returns a chronological snapshot of the bounded event log
func (s *Service) GetEventLog() []interfaces.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.logFull {
		snapshot := make([]interfaces.Event, s.logNext)
		copy(snapshot, s.log[:s.logNext])
		return snapshot
	}

	snapshot := make([]interfaces.Event, 0, len(s.log))
	snapshot = append(snapshot, s.log[s.logNext:]...)
	snapshot = append(snapshot, s.log[:s.logNext]...)
	return snapshot
}

// Close shuts down the event service; further publishes and subscribes fail
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.subscribers = make(map[interfaces.EventType][]interfaces.EventHandler)

	s.logger.Debug().Msg("Event service closed")
	return nil
}

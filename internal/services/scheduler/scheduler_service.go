package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/narro/internal/interfaces"
)

// taskEntry represents a registered maintenance task with run metadata
type taskEntry struct {
	name      string
	schedule  string
	handler   func() error
	enabled   bool
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
	lastError string
}

// Service implements SchedulerService on top of robfig/cron. Tasks are
// serialized: the sweeps share storage and the provider registry, so only one
// runs at a time.
type Service struct {
	cron   *cron.Cron
	logger arbor.ILogger

	taskMu  sync.Mutex // Protects tasks map and running flag
	runMu   sync.Mutex // Prevents concurrent task execution
	tasks   map[string]*taskEntry
	running bool
}

// NewService creates a new scheduler service
func NewService(logger arbor.ILogger) interfaces.SchedulerService {
	return &Service{
		cron:   cron.New(),
		logger: logger,
		tasks:  make(map[string]*taskEntry),
	}
}

// RegisterTask registers a task with a cron schedule. Registration must happen
// before Start; a bad schedule is reported immediately.
func (s *Service) RegisterTask(name string, schedule string, handler func() error) error {
	if name == "" {
		return fmt.Errorf("task name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("task %s has no handler", name)
	}

	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}

	entry := &taskEntry{
		name:     name,
		schedule: schedule,
		handler:  handler,
		enabled:  true,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeTask(name)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for task %s: %w", schedule, name, err)
	}

	entry.cronID = cronID
	s.tasks[name] = entry

	s.logger.Info().
		Str("task_name", name).
		Str("schedule", schedule).
		Msg("Scheduled task registered")

	return nil
}

// Start begins running registered tasks on their schedules
func (s *Service) Start() error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("task_count", len(s.tasks)).
		Msg("Scheduler started")

	return nil
}

// Stop halts the scheduler and waits for any in-flight task to finish
func (s *Service) Stop() error {
	s.taskMu.Lock()
	if !s.running {
		s.taskMu.Unlock()
		return nil
	}
	s.running = false
	s.taskMu.Unlock()

	// cron.Stop returns a context that is done once running entries complete
	<-s.cron.Stop().Done()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// TriggerNow runs a registered task immediately, off schedule. The call blocks
// until the task completes.
func (s *Service) TriggerNow(name string) error {
	s.taskMu.Lock()
	_, exists := s.tasks[name]
	s.taskMu.Unlock()

	if !exists {
		return fmt.Errorf("task %s not found", name)
	}

	s.logger.Info().
		Str("task_name", name).
		Msg("Manual task trigger requested")

	s.executeTask(name)
	return nil
}

// IsRunning returns true if the scheduler is active
func (s *Service) IsRunning() bool {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	return s.running
}

// GetTaskStatus returns the status of a specific task
func (s *Service) GetTaskStatus(name string) (*interfaces.ScheduledTaskStatus, error) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	entry, exists := s.tasks[name]
	if !exists {
		return nil, fmt.Errorf("task %s not found", name)
	}

	// Next fire time comes from the live cron entry; it is zero until Start
	var nextRun *time.Time
	if entry.enabled {
		for _, cronEntry := range s.cron.Entries() {
			if cronEntry.ID == entry.cronID && !cronEntry.Next.IsZero() {
				next := cronEntry.Next
				nextRun = &next
				break
			}
		}
	}

	return &interfaces.ScheduledTaskStatus{
		Name:      entry.name,
		Enabled:   entry.enabled,
		Schedule:  entry.schedule,
		LastRun:   entry.lastRun,
		NextRun:   nextRun,
		IsRunning: entry.isRunning,
		LastError: entry.lastError,
	}, nil
}

// GetAllTaskStatuses returns all task statuses keyed by name
func (s *Service) GetAllTaskStatuses() map[string]*interfaces.ScheduledTaskStatus {
	s.taskMu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.taskMu.Unlock()

	statuses := make(map[string]*interfaces.ScheduledTaskStatus)
	for _, name := range names {
		status, err := s.GetTaskStatus(name)
		if err == nil {
			statuses[name] = status
		}
	}

	return statuses
}

// executeTask wraps task execution with serialization, panic recovery, and
// status tracking
func (s *Service) executeTask(name string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in scheduled task")

			s.taskMu.Lock()
			if entry, exists := s.tasks[name]; exists {
				entry.isRunning = false
				entry.lastError = fmt.Sprintf("panic: %v", r)
			}
			s.taskMu.Unlock()
		}
	}()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.taskMu.Lock()
	entry, exists := s.tasks[name]
	if !exists {
		s.taskMu.Unlock()
		s.logger.Warn().
			Str("task_name", name).
			Msg("Scheduled task not found")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.taskMu.Unlock()

	started := time.Now()
	s.logger.Debug().
		Str("task_name", name).
		Msg("Scheduled task started")

	err := handler()

	completed := time.Now()
	s.taskMu.Lock()
	entry.isRunning = false
	entry.lastRun = &completed
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.taskMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("task_name", name).
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("Scheduled task failed")
	} else {
		s.logger.Info().
			Str("task_name", name).
			Dur("duration", time.Since(started)).
			Msg("Scheduled task completed")
	}
}

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ternarybob/narro/internal/common"
	"github.com/ternarybob/narro/internal/interfaces"
	"github.com/ternarybob/narro/internal/models"
	"github.com/ternarybob/narro/internal/telemetry"
)

// TrainingJobEntityType is the entity type registered for job lifecycles
const TrainingJobEntityType = "training_job"

// orchestratorActor is the actor recorded on transitions the service takes
// on its own behalf
const orchestratorActor = "system/orchestrator"

// Service implements OrchestratorService. A single mutex covers the counter
// increment, threshold check, active-job check, and job creation so that
// concurrent contributions for one (subject, category) pair can never create
// two jobs. Contention is low: contributions arrive at human pace.
type Service struct {
	config       *common.Config
	jobs         interfaces.JobStorage
	counters     interfaces.CounterStorage
	stateMachine interfaces.StateMachineService
	registry     interfaces.ProviderRegistry
	events       interfaces.EventService
	logger       arbor.ILogger

	mu         sync.Mutex
	activeJobs map[string]string // counter key -> job id
	closed     bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	contributionCount metric.Int64Counter
	jobOutcomes       metric.Int64Counter
	jobDuration       metric.Float64Histogram
}

// NewService creates the job orchestrator and registers the training_job
// lifecycle with the state machine.
func NewService(
	config *common.Config,
	jobs interfaces.JobStorage,
	counters interfaces.CounterStorage,
	stateMachine interfaces.StateMachineService,
	registry interfaces.ProviderRegistry,
	events interfaces.EventService,
	logger arbor.ILogger,
) (interfaces.OrchestratorService, error) {
	if err := stateMachine.RegisterEntityType(trainingJobDefinition()); err != nil {
		return nil, fmt.Errorf("failed to register job lifecycle: %w", err)
	}

	meter := telemetry.Meter("narro/orchestrator")
	contributions, _ := meter.Int64Counter("narro.contributions.count",
		metric.WithDescription("Voice contributions recorded"),
	)
	outcomes, _ := meter.Int64Counter("narro.jobs.count",
		metric.WithDescription("Training jobs by terminal outcome"),
	)
	jobDur, _ := meter.Float64Histogram("narro.job.duration",
		metric.WithDescription("Training job wall time (ms)"),
		metric.WithUnit("ms"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:            config,
		jobs:              jobs,
		counters:          counters,
		stateMachine:      stateMachine,
		registry:          registry,
		events:            events,
		logger:            logger,
		activeJobs:        make(map[string]string),
		baseCtx:           ctx,
		cancel:            cancel,
		contributionCount: contributions,
		jobOutcomes:       outcomes,
		jobDuration:       jobDur,
	}, nil
}

// trainingJobDefinition is the lifecycle table for training jobs. The
// queued -> failed edge exists for startup recovery of jobs that never ran.
func trainingJobDefinition() *models.EntityTypeDefinition {
	return &models.EntityTypeDefinition{
		Name:        TrainingJobEntityType,
		Description: "Voice training job lifecycle",
		States: []models.StateDefinition{
			{Key: "queued", Label: "Queued", IsInitial: true, SortOrder: 1},
			{Key: "processing", Label: "Processing", SortOrder: 2},
			{Key: "completed", Label: "Completed", IsTerminal: true, SortOrder: 3},
			{Key: "failed", Label: "Failed", IsTerminal: true, SortOrder: 4},
		},
		Transitions: []models.TransitionDefinition{
			{From: "queued", To: "processing", Label: "Start"},
			{From: "queued", To: "failed", Label: "Abort"},
			{From: "processing", To: "completed", Label: "Complete"},
			{From: "processing", To: "failed", Label: "Fail"},
		},
	}
}

// RecordContribution increments the pair's counter and, when the count crosses
// the category threshold with no job already active for the pair, creates a
// training job and schedules it asynchronously. Never blocks on synthesis.
func (s *Service) RecordContribution(ctx context.Context, subjectID, category string) (*models.ContributionResult, error) {
	if subjectID == "" || category == "" {
		return nil, fmt.Errorf("subject and category are required")
	}

	result, job, err := s.recordContribution(ctx, subjectID, category)
	if err != nil {
		return nil, err
	}

	s.contributionCount.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
	s.publishContribution(ctx, result)

	if job != nil {
		s.scheduleJob(job)
	}

	return result, nil
}

// recordContribution is the critical section: counter increment, threshold
// check, active-job check, and job creation happen under one lock.
func (s *Service) recordContribution(ctx context.Context, subjectID, category string) (*models.ContributionResult, *models.TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, fmt.Errorf("orchestrator is closed")
	}

	key := models.CounterKey(subjectID, category)
	counter, err := s.counters.GetCounter(ctx, subjectID, category)
	if err != nil {
		if !models.IsNotFound(err) {
			return nil, nil, fmt.Errorf("failed to read counter: %w", err)
		}
		counter = &models.ContributionCounter{Key: key, SubjectID: subjectID, Category: category}
	}
	counter.Count++
	counter.UpdatedAt = time.Now()
	if err := s.counters.SaveCounter(ctx, counter); err != nil {
		return nil, nil, fmt.Errorf("failed to save counter: %w", err)
	}

	cat := s.config.CategoryFor(category)
	result := &models.ContributionResult{
		SubjectID: subjectID,
		Category:  category,
		Count:     counter.Count,
		Threshold: cat.Threshold,
	}

	_, active := s.activeJobs[key]
	if counter.Count < cat.Threshold || active {
		s.logger.Debug().
			Str("subject_id", subjectID).
			Str("category", category).
			Int("count", counter.Count).
			Int("threshold", cat.Threshold).
			Bool("job_active", active).
			Msg("Contribution recorded")
		return result, nil, nil
	}

	job := &models.TrainingJob{
		ID:           common.NewJobID(),
		SubjectID:    subjectID,
		Category:     category,
		Status:       models.JobStatusQueued,
		SampleCount:  counter.Count,
		CostEstimate: float64(counter.Count) * cat.CostPerSample,
		CreatedAt:    time.Now(),
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("failed to persist job: %w", err)
	}
	if _, err := s.stateMachine.InitEntity(ctx, TrainingJobEntityType, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to init job lifecycle")
	}
	s.advanceOwner(ctx, cat, subjectID, cat.ProcessingState)
	s.activeJobs[key] = job.ID

	result.JobCreated = true
	result.JobID = job.ID

	s.logger.Info().
		Str("job_id", job.ID).
		Str("subject_id", subjectID).
		Str("category", category).
		Int("samples", job.SampleCount).
		Msg("Training job created")

	return result, job, nil
}

// scheduleJob runs the job in a background goroutine. The waitgroup is settled
// inside the goroutine so Close always sees the job finish or time out.
func (s *Service) scheduleJob(job *models.TrainingJob) {
	s.wg.Add(1)
	common.SafeGo(s.logger, "train-"+job.ID, func() {
		defer s.wg.Done()
		s.runJob(job)
	})
}

// runJob drives one training job from queued to a terminal status. Runs in its
// own goroutine under the configured job timeout.
func (s *Service) runJob(job *models.TrainingJob) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.config.ParseJobTimeout())
	defer cancel()

	jobLogger := s.logger.WithCorrelationId(job.ID)
	cat := s.config.CategoryFor(job.Category)

	s.publishJobEvent(ctx, interfaces.EventJobCreated, job, "")

	started := time.Now()
	job.Status = models.JobStatusProcessing
	job.StartedAt = &started
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		jobLogger.Warn().Err(err).Msg("Failed to record job start")
	}
	s.transitionJob(ctx, job.ID, "processing")
	s.publishJobEvent(ctx, interfaces.EventJobStarted, job, "")

	req, err := s.buildRequest(job)
	var result *models.VoiceResult
	if err == nil {
		result, err = s.registry.Invoke(ctx, models.CapabilityVoiceTraining, req)
	}

	// Terminal bookkeeping runs on the service context; the per-job deadline
	// only bounds the provider call
	if err != nil {
		s.finishJobFailure(s.baseCtx, job, cat, err, jobLogger)
		return
	}
	s.finishJobSuccess(s.baseCtx, job, cat, result, jobLogger)
}

// finishJobSuccess records completion, resets the pair's counter, advances the
// owning entity, releases the active-job slot, and publishes job.completed.
func (s *Service) finishJobSuccess(ctx context.Context, job *models.TrainingJob, cat common.CategoryConfig, result *models.VoiceResult, jobLogger arbor.ILogger) {
	if s.alreadyTerminal(ctx, job, jobLogger) {
		return
	}

	finished := time.Now()
	job.Status = models.JobStatusCompleted
	job.Provider = result.Provider
	job.VoiceID = result.VoiceID
	job.ActualCost = result.Cost
	if job.ActualCost == 0 {
		// Providers that report no cost fall back to the creation-time estimate
		job.ActualCost = job.CostEstimate
	}
	job.CompletedAt = &finished
	if len(result.Metadata) > 0 {
		if job.Metadata == nil {
			job.Metadata = make(map[string]interface{}, len(result.Metadata))
		}
		for k, v := range result.Metadata {
			job.Metadata[k] = v
		}
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		jobLogger.Error().Err(err).Msg("Failed to record job completion")
	}
	s.transitionJob(ctx, job.ID, "completed")

	s.mu.Lock()
	key := models.CounterKey(job.SubjectID, job.Category)
	counter, err := s.counters.GetCounter(ctx, job.SubjectID, job.Category)
	if err == nil {
		counter.Count = 0
		counter.UpdatedAt = time.Now()
		if err := s.counters.SaveCounter(ctx, counter); err != nil {
			jobLogger.Warn().Err(err).Msg("Failed to reset contribution counter")
		}
	}
	s.advanceOwner(ctx, cat, job.SubjectID, cat.CompletedState)
	delete(s.activeJobs, key)
	s.mu.Unlock()

	jobLogger.Info().
		Str("provider", job.Provider).
		Str("voice_id", job.VoiceID).
		Dur("duration", job.Duration()).
		Msg("Training job completed")

	s.jobOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", "completed"),
		attribute.String("provider", job.Provider),
	))
	s.jobDuration.Record(ctx, float64(job.Duration().Milliseconds()))

	s.publishJobEvent(ctx, interfaces.EventJobCompleted, job, "")
}

// finishJobFailure records the failure, preserves the pair's counter, moves
// the owning entity to the category's failed state when one is declared,
// releases the active-job slot, and publishes job.failed.
func (s *Service) finishJobFailure(ctx context.Context, job *models.TrainingJob, cat common.CategoryConfig, cause error, jobLogger arbor.ILogger) {
	if s.alreadyTerminal(ctx, job, jobLogger) {
		return
	}

	finished := time.Now()
	job.Status = models.JobStatusFailed
	job.Error = cause.Error()
	job.CompletedAt = &finished
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		jobLogger.Error().Err(err).Msg("Failed to record job failure")
	}
	s.transitionJob(ctx, job.ID, "failed")

	s.mu.Lock()
	// Counter preserved: accumulated contributions count toward the next attempt
	s.advanceOwner(ctx, cat, job.SubjectID, cat.FailedState)
	delete(s.activeJobs, models.CounterKey(job.SubjectID, job.Category))
	s.mu.Unlock()

	jobLogger.Warn().Err(cause).Msg("Training job failed")

	s.jobOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
	s.jobDuration.Record(ctx, float64(job.Duration().Milliseconds()))

	s.publishJobEvent(ctx, interfaces.EventJobFailed, job, job.Error)
}

// alreadyTerminal reports whether another path (the stale sweep) already
// finished this job. Terminal jobs are never rewritten; only the active-job
// slot is released.
func (s *Service) alreadyTerminal(ctx context.Context, job *models.TrainingJob, jobLogger arbor.ILogger) bool {
	stored, err := s.jobs.GetJob(ctx, job.ID)
	if err != nil || !stored.Status.IsTerminal() {
		return false
	}

	jobLogger.Warn().
		Str("status", string(stored.Status)).
		Msg("Job already finished elsewhere, dropping late result")

	s.mu.Lock()
	key := models.CounterKey(job.SubjectID, job.Category)
	if s.activeJobs[key] == job.ID {
		delete(s.activeJobs, key)
	}
	s.mu.Unlock()
	return true
}

// advanceOwner moves the category's owning entity, when one is configured.
// Illegal or unpermitted edges are logged and skipped; job bookkeeping never
// fails because a lifecycle table does not declare the edge.
func (s *Service) advanceOwner(ctx context.Context, cat common.CategoryConfig, subjectID, toState string) {
	if cat.OwnerType == "" || toState == "" {
		return
	}
	if err := s.stateMachine.Transition(ctx, cat.OwnerType, subjectID, toState, orchestratorActor); err != nil {
		s.logger.Warn().Err(err).
			Str("entity_type", cat.OwnerType).
			Str("entity_id", subjectID).
			Str("to_state", toState).
			Msg("Owner transition skipped")
	}
}

// transitionJob advances the job's lifecycle entity alongside its stored status
func (s *Service) transitionJob(ctx context.Context, jobID, toState string) {
	if err := s.stateMachine.Transition(ctx, TrainingJobEntityType, jobID, toState, orchestratorActor); err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", jobID).
			Str("to_state", toState).
			Msg("Job lifecycle transition failed")
	}
}

// buildRequest assembles the provider request from the samples uploaded for
// the pair. The upload layer writes <samples>/<subject>/<category>/; this
// layer only reads.
func (s *Service) buildRequest(job *models.TrainingJob) (*models.VoiceRequest, error) {
	samples, err := s.collectSamples(job.SubjectID, job.Category)
	if err != nil {
		return nil, err
	}

	return &models.VoiceRequest{
		Kind:      models.RequestKindTraining,
		SubjectID: job.SubjectID,
		Category:  job.Category,
		VoiceName: job.SubjectID + "-" + job.Category,
		Samples:   samples,
		Labels: map[string]string{
			"subject_id": job.SubjectID,
			"category":   job.Category,
			"job_id":     job.ID,
		},
	}, nil
}

// collectSamples lists sample files for the pair, ordered by name. A missing
// directory means no samples have been uploaded yet; providers decide whether
// they can train without them.
func (s *Service) collectSamples(subjectID, category string) ([]models.VoiceSample, error) {
	dir := filepath.Join(s.config.Storage.Filesystem.Samples, subjectID, category)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read samples directory: %w", err)
	}

	var samples []models.VoiceSample
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		samples = append(samples, models.VoiceSample{
			Name:     name,
			Path:     filepath.Join(dir, name),
			MimeType: sampleMimeType(name),
		})
	}
	return samples, nil
}

func sampleMimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

// GetJob returns a stored job by id
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.TrainingJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// ListJobs returns stored jobs newest first, up to limit (0 means all)
func (s *Service) ListJobs(ctx context.Context, limit int) ([]*models.TrainingJob, error) {
	return s.jobs.ListJobs(ctx, &interfaces.JobListOptions{Limit: limit})
}

// ActiveJob reports the active job id for a pair, if any
func (s *Service) ActiveJob(subjectID, category string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobID, ok := s.activeJobs[models.CounterKey(subjectID, category)]
	return jobID, ok
}

// CounterValue returns the pair's current contribution count. A pair that has
// never contributed reads as zero.
func (s *Service) CounterValue(ctx context.Context, subjectID, category string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, err := s.counters.GetCounter(ctx, subjectID, category)
	if err != nil {
		if models.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return counter.Count, nil
}

// RecoverInterruptedJobs fails over jobs a previous process left queued or
// processing. Counters are untouched, so the accumulated contributions still
// count toward the next threshold crossing. Called once at startup, before
// new contributions arrive.
func (s *Service) RecoverInterruptedJobs(ctx context.Context) (int, error) {
	recovered := 0
	for _, status := range []models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing} {
		jobs, err := s.jobs.GetJobsByStatus(ctx, status)
		if err != nil {
			return recovered, fmt.Errorf("failed to find %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			finished := time.Now()
			job.Status = models.JobStatusFailed
			job.Error = "interrupted by restart"
			job.CompletedAt = &finished
			if err := s.jobs.UpdateJob(ctx, job); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to fail interrupted job")
				continue
			}
			s.transitionJob(ctx, job.ID, "failed")
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info().Int("count", recovered).Msg("Failed jobs interrupted by previous run")
	}
	return recovered, nil
}

// FailStaleJobs fails jobs that have been processing longer than the
// configured cutoff. Their run goroutine is gone or wedged; the pair's slot is
// released so a later crossing can try again. Called by the scheduler.
func (s *Service) FailStaleJobs(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.config.ParseStaleAfter())

	jobs, err := s.jobs.GetJobsByStatus(ctx, models.JobStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to find processing jobs: %w", err)
	}

	failed := 0
	for _, job := range jobs {
		startedAt := job.CreatedAt
		if job.StartedAt != nil {
			startedAt = *job.StartedAt
		}
		if startedAt.After(cutoff) {
			continue
		}

		finished := time.Now()
		job.Status = models.JobStatusFailed
		job.Error = fmt.Sprintf("stale: processing since %s", startedAt.Format(time.RFC3339))
		job.CompletedAt = &finished
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to fail stale job")
			continue
		}
		s.transitionJob(ctx, job.ID, "failed")

		s.mu.Lock()
		key := models.CounterKey(job.SubjectID, job.Category)
		if s.activeJobs[key] == job.ID {
			delete(s.activeJobs, key)
		}
		s.mu.Unlock()

		s.logger.Warn().
			Str("job_id", job.ID).
			Str("subject_id", job.SubjectID).
			Str("category", job.Category).
			Msg("Stale job failed by sweep")

		s.publishJobEvent(ctx, interfaces.EventJobFailed, job, job.Error)
		failed++
	}

	return failed, nil
}

// Close stops accepting contributions and waits for in-flight jobs, bounded
// by the configured shutdown timeout.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timeout := s.config.ParseShutdownTimeout()
	select {
	case <-done:
		s.cancel()
		s.logger.Debug().Msg("Orchestrator closed")
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("orchestrator shutdown timed out after %s with jobs in flight", timeout)
	}
}

func (s *Service) publishContribution(ctx context.Context, result *models.ContributionResult) {
	payload := map[string]interface{}{
		"subject_id":  result.SubjectID,
		"category":    result.Category,
		"count":       result.Count,
		"threshold":   result.Threshold,
		"job_created": result.JobCreated,
		"timestamp":   time.Now().Format(time.RFC3339),
	}
	if result.JobID != "" {
		payload["job_id"] = result.JobID
	}

	if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventContributionRecorded, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).
			Str("subject_id", result.SubjectID).
			Str("category", result.Category).
			Msg("Failed to publish contribution event")
	}
}

func (s *Service) publishJobEvent(ctx context.Context, eventType interfaces.EventType, job *models.TrainingJob, errText string) {
	payload := map[string]interface{}{
		"job_id":     job.ID,
		"subject_id": job.SubjectID,
		"category":   job.Category,
		"status":     string(job.Status),
		"timestamp":  time.Now().Format(time.RFC3339),
	}
	if job.Provider != "" {
		payload["provider"] = job.Provider
	}
	if job.VoiceID != "" {
		payload["voice_id"] = job.VoiceID
	}
	if errText != "" {
		payload["error"] = errText
	}

	if err := s.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("event", string(eventType)).
			Msg("Failed to publish job event")
	}
}

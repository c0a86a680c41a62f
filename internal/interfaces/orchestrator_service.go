package interfaces

import (
	"context"

	"github.com/ternarybob/narro/internal/models"
)

// OrchestratorService coordinates contribution counting, threshold-triggered
// job creation, provider invocation, and lifecycle updates. At most one job
// is active per (subject, category) pair at any time.
type OrchestratorService interface {
	// RecordContribution increments the pair's counter and, on a threshold
	// crossing with no active job, creates and schedules a training job.
	// Returns without blocking on synthesis.
	RecordContribution(ctx context.Context, subjectID, category string) (*models.ContributionResult, error)

	// GetJob returns a job by id, or NotFoundError
	GetJob(ctx context.Context, jobID string) (*models.TrainingJob, error)

	// ListJobs returns jobs newest first, up to limit (0 means all)
	ListJobs(ctx context.Context, limit int) ([]*models.TrainingJob, error)

	// ActiveJob reports the active job id for a pair, if any
	ActiveJob(subjectID, category string) (string, bool)

	// CounterValue returns the pair's current contribution count
	CounterValue(ctx context.Context, subjectID, category string) (int, error)

	// RecoverInterruptedJobs fails over jobs left queued or processing by a
	// previous process. Called once at startup.
	RecoverInterruptedJobs(ctx context.Context) (int, error)

	// FailStaleJobs fails jobs processing longer than the configured limit.
	// Called periodically by the scheduler.
	FailStaleJobs(ctx context.Context) (int, error)

	// Close waits for in-flight jobs to finish, bounded by the configured
	// shutdown timeout
	Close() error
}

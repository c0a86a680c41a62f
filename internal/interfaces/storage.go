// -----------------------------------------------------------------------
// Last Modified: Tuesday, 18th August 2026 9:42:11 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/narro/internal/models"
)

// JobStorage - interface for training job persistence
type JobStorage interface {
	// CRUD operations
	SaveJob(ctx context.Context, job *models.TrainingJob) error
	GetJob(ctx context.Context, jobID string) (*models.TrainingJob, error)
	UpdateJob(ctx context.Context, job *models.TrainingJob) error

	// List operations
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.TrainingJob, error)
	GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.TrainingJob, error)

	// Stats operations
	CountJobs(ctx context.Context) (int, error)
	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)
}

// JobListOptions controls ListJobs filtering and paging
type JobListOptions struct {
	SubjectID string
	Category  string
	Status    models.JobStatus
	Limit     int
	Offset    int
}

// EntityStateStorage - interface for recorded entity state persistence
type EntityStateStorage interface {
	GetState(ctx context.Context, entityType, entityID string) (*models.EntityStateRecord, error)
	SetState(ctx context.Context, record *models.EntityStateRecord) error
	DeleteState(ctx context.Context, entityType, entityID string) error
	ListStates(ctx context.Context, entityType string) ([]*models.EntityStateRecord, error)
}

// CounterStorage - interface for contribution counter persistence
type CounterStorage interface {
	GetCounter(ctx context.Context, subjectID, category string) (*models.ContributionCounter, error)
	SaveCounter(ctx context.Context, counter *models.ContributionCounter) error
	ListCounters(ctx context.Context) ([]*models.ContributionCounter, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	JobStorage() JobStorage
	EntityStateStorage() EntityStateStorage
	CounterStorage() CounterStorage
	KeyValueStorage() KeyValueStorage
	DB() interface{}
	Close() error
}

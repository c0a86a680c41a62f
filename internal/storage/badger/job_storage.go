package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/narro/internal/interfaces"
	"github.com/ternarybob/narro/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// SaveJob persists a training job record
func (s *JobStorage) SaveJob(ctx context.Context, job *models.TrainingJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job must have an ID")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob retrieves a training job by ID
func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.TrainingJob, error) {
	var job models.TrainingJob
	err := s.db.Store().Get(jobID, &job)
	if err == badgerhold.ErrNotFound {
		return nil, &models.NotFoundError{Resource: "job", Key: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateJob rewrites an existing training job record
func (s *JobStorage) UpdateJob(ctx context.Context, job *models.TrainingJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job must have an ID")
	}

	err := s.db.Store().Update(job.ID, job)
	if err == badgerhold.ErrNotFound {
		return &models.NotFoundError{Resource: "job", Key: job.ID}
	}
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// ListJobs returns jobs matching the supplied filters, newest first
func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.TrainingJob, error) {
	query := badgerhold.Where("ID").Ne("")
	if opts != nil {
		if opts.SubjectID != "" {
			query = query.And("SubjectID").Eq(opts.SubjectID)
		}
		if opts.Category != "" {
			query = query.And("Category").Eq(opts.Category)
		}
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
	}

	query = query.SortBy("CreatedAt").Reverse()
	if opts != nil && opts.Offset > 0 {
		query = query.Skip(opts.Offset)
	}
	if opts != nil && opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	var jobs []models.TrainingJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.TrainingJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// GetJobsByStatus returns all jobs currently in the given status
func (s *JobStorage) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.TrainingJob, error) {
	var jobs []models.TrainingJob
	err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status).SortBy("CreatedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to find jobs by status: %w", err)
	}

	result := make([]*models.TrainingJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// CountJobs returns the total number of stored jobs
func (s *JobStorage) CountJobs(ctx context.Context) (int, error) {
	var jobs []models.TrainingJob
	if err := s.db.Store().Find(&jobs, nil); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return len(jobs), nil
}

// CountJobsByStatus returns the number of stored jobs in the given status
func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	var jobs []models.TrainingJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return 0, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return len(jobs), nil
}

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

// CounterStorage implements the CounterStorage interface for Badger
type CounterStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCounterStorage creates a new CounterStorage instance
func NewCounterStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CounterStorage {
	return &CounterStorage{
		db:     db,
		logger: logger,
	}
}

// GetCounter retrieves the contribution counter for one subject and category
func (s *CounterStorage) GetCounter(ctx context.Context, subjectID, category string) (*models.ContributionCounter, error) {
	key := models.CounterKey(subjectID, category)
	var counter models.ContributionCounter
	err := s.db.Store().Get(key, &counter)
	if err == badgerhold.ErrNotFound {
		return nil, &models.NotFoundError{Resource: "counter", Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counter: %w", err)
	}
	return &counter, nil
}

// SaveCounter inserts or rewrites a contribution counter
func (s *CounterStorage) SaveCounter(ctx context.Context, counter *models.ContributionCounter) error {
	if counter == nil || counter.SubjectID == "" || counter.Category == "" {
		return fmt.Errorf("counter must have a subject and category")
	}
	if counter.Key == "" {
		counter.Key = models.CounterKey(counter.SubjectID, counter.Category)
	}
	if counter.UpdatedAt.IsZero() {
		counter.UpdatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(counter.Key, counter); err != nil {
		return fmt.Errorf("failed to save counter: %w", err)
	}
	return nil
}

// ListCounters returns all contribution counters ordered by key
func (s *CounterStorage) ListCounters(ctx context.Context) ([]*models.ContributionCounter, error) {
	var counters []models.ContributionCounter
	err := s.db.Store().Find(&counters, badgerhold.Where("Key").Ne("").SortBy("Key"))
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}

	result := make([]*models.ContributionCounter, len(counters))
	for i := range counters {
		result[i] = &counters[i]
	}
	return result, nil
}

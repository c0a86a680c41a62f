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

// EntityStateStorage implements the EntityStateStorage interface for Badger
type EntityStateStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEntityStateStorage creates a new EntityStateStorage instance
func NewEntityStateStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EntityStateStorage {
	return &EntityStateStorage{
		db:     db,
		logger: logger,
	}
}

// GetState retrieves the recorded state for one entity instance
func (s *EntityStateStorage) GetState(ctx context.Context, entityType, entityID string) (*models.EntityStateRecord, error) {
	key := models.EntityStateKey(entityType, entityID)
	var record models.EntityStateRecord
	err := s.db.Store().Get(key, &record)
	if err == badgerhold.ErrNotFound {
		return nil, &models.NotFoundError{Resource: "entity state", Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity state: %w", err)
	}
	return &record, nil
}

// SetState inserts or rewrites the recorded state for one entity instance
func (s *EntityStateStorage) SetState(ctx context.Context, record *models.EntityStateRecord) error {
	if record == nil || record.EntityType == "" || record.EntityID == "" {
		return fmt.Errorf("state record must have an entity type and entity ID")
	}
	if record.ID == "" {
		record.ID = models.EntityStateKey(record.EntityType, record.EntityID)
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save entity state: %w", err)
	}
	return nil
}

// DeleteState removes the recorded state for one entity instance
func (s *EntityStateStorage) DeleteState(ctx context.Context, entityType, entityID string) error {
	key := models.EntityStateKey(entityType, entityID)
	err := s.db.Store().Delete(key, &models.EntityStateRecord{})
	if err == badgerhold.ErrNotFound {
		return &models.NotFoundError{Resource: "entity state", Key: key}
	}
	if err != nil {
		return fmt.Errorf("failed to delete entity state: %w", err)
	}
	return nil
}

// ListStates returns all recorded states for one entity type
func (s *EntityStateStorage) ListStates(ctx context.Context, entityType string) ([]*models.EntityStateRecord, error) {
	var records []models.EntityStateRecord
	err := s.db.Store().Find(&records, badgerhold.Where("EntityType").Eq(entityType).SortBy("EntityID"))
	if err != nil {
		return nil, fmt.Errorf("failed to list entity states: %w", err)
	}

	result := make([]*models.EntityStateRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/narro/internal/common"
	"github.com/ternarybob/narro/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db          *BadgerDB
	job         interfaces.JobStorage
	entityState interfaces.EntityStateStorage
	counter     interfaces.CounterStorage
	kv          interfaces.KeyValueStorage
	logger      arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	return newManager(db, logger), nil
}

// NewInMemoryManager creates a storage manager backed by an in-memory store.
// Used by tests so each case starts from an empty database.
func NewInMemoryManager(logger arbor.ILogger) (interfaces.StorageManager, error) {
	db, err := NewInMemoryBadgerDB(logger)
	if err != nil {
		return nil, err
	}
	return newManager(db, logger), nil
}

func newManager(db *BadgerDB, logger arbor.ILogger) *Manager {
	manager := &Manager{
		db:          db,
		job:         NewJobStorage(db, logger),
		entityState: NewEntityStateStorage(db, logger),
		counter:     NewCounterStorage(db, logger),
		kv:          NewKVStorage(db, logger),
		logger:      logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager
}

// JobStorage returns the training job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// EntityStateStorage returns the entity state storage interface
func (m *Manager) EntityStateStorage() interfaces.EntityStateStorage {
	return m.entityState
}

// CounterStorage returns the contribution counter storage interface
func (m *Manager) CounterStorage() interfaces.CounterStorage {
	return m.counter
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// RunGC runs one round of value-log garbage collection on the underlying store
func (m *Manager) RunGC(discardRatio float64) error {
	if m.db != nil {
		return m.db.RunGC(discardRatio)
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

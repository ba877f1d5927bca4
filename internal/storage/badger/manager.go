package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db          *BadgerDB
	status      interfaces.StatusStorage
	actionCache interfaces.ActionCache
	results     interfaces.ResultSink
	logger      arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:          db,
		status:      NewStatusStorage(db, logger),
		actionCache: NewActionCacheStorage(db, logger),
		results:     NewResultStorage(db, logger),
		logger:      logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// StatusStorage returns the job status storage
func (m *Manager) StatusStorage() interfaces.StatusStorage {
	return m.status
}

// ActionCache returns the cached action storage
func (m *Manager) ActionCache() interfaces.ActionCache {
	return m.actionCache
}

// ResultSink returns the order artifact storage
func (m *Manager) ResultSink() interfaces.ResultSink {
	return m.results
}

// WithActionCache replaces the action cache backend
func (m *Manager) WithActionCache(cache interfaces.ActionCache) {
	m.actionCache = cache
}

// WithResultSink replaces the order artifact backend
func (m *Manager) WithResultSink(sink interfaces.ResultSink) {
	m.results = sink
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

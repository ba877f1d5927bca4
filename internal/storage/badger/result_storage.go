package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ResultStorage implements interfaces.ResultSink for Badger
type ResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResultStorage creates a new ResultStorage instance
func NewResultStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ResultSink {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

// ResultKey returns the artifact key for a run
func ResultKey(userEmail, runID string) string {
	return fmt.Sprintf("orders/%s/%s.json", userEmail, runID)
}

func (s *ResultStorage) Put(ctx context.Context, userEmail, runID string, orders *models.OrderSet) (string, error) {
	if orders == nil {
		return "", fmt.Errorf("order set is nil")
	}

	key := ResultKey(userEmail, runID)
	record := &models.StoredOrderSet{
		Key:       key,
		UserEmail: userEmail,
		RunID:     runID,
		Orders:    *orders,
		StoredAt:  time.Now().UnixNano(),
	}

	if err := s.db.Store().Insert(key, record); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return "", interfaces.ErrResultExists
		}
		return "", fmt.Errorf("failed to store orders: %w", err)
	}

	s.logger.Debug().
		Str("key", key).
		Int("orders", len(orders.Orders)).
		Msg("Orders stored")

	return key, nil
}

func (s *ResultStorage) Latest(ctx context.Context, userEmail string) (*models.StoredOrderSet, error) {
	var results []models.StoredOrderSet
	query := badgerhold.Where("UserEmail").Eq(userEmail).Index("UserEmail").SortBy("StoredAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	if len(results) == 0 {
		return nil, interfaces.ErrResultNotFound
	}
	return &results[0], nil
}

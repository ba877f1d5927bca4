package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// StatusStorage implements interfaces.StatusStorage for Badger.
// Every write runs inside a single Badger transaction so guarded writes are atomic.
type StatusStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	now    func() time.Time
}

// NewStatusStorage creates a new StatusStorage instance
func NewStatusStorage(db *BadgerDB, logger arbor.ILogger) interfaces.StatusStorage {
	return &StatusStorage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (s *StatusStorage) Get(ctx context.Context, userEmail string) (*models.ExtractionJob, error) {
	var job models.ExtractionJob
	if err := s.db.Store().Get(userEmail, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}
	return &job, nil
}

func (s *StatusStorage) Upsert(ctx context.Context, userEmail string, update models.StatusUpdate) error {
	_, err := s.CompareAndSwap(ctx, userEmail, nil, update)
	return err
}

func (s *StatusStorage) CompareAndSwap(ctx context.Context, userEmail string, guard models.StatusGuard, update models.StatusUpdate) (bool, error) {
	if userEmail == "" {
		return false, fmt.Errorf("user email is required")
	}

	store := s.db.Store()
	swapped := false

	err := store.Badger().Update(func(tx *badger.Txn) error {
		var current *models.ExtractionJob
		var existing models.ExtractionJob
		if err := store.TxGet(tx, userEmail, &existing); err == nil {
			current = &existing
		} else if !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}

		if guard != nil && !guard(current) {
			return nil
		}

		next := models.ExtractionJob{UserEmail: userEmail}
		if current != nil {
			next = *current
		}
		update.Apply(&next, s.now())

		if err := store.TxUpsert(tx, userEmail, &next); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to write job status: %w", err)
	}

	if swapped {
		s.logger.Debug().
			Str("user_email", userEmail).
			Str("status", string(update.Status)).
			Msg("Job status written")
	}

	return swapped, nil
}

func (s *StatusStorage) List(ctx context.Context, statuses ...models.JobStatus) ([]*models.ExtractionJob, error) {
	var query *badgerhold.Query
	if len(statuses) > 0 {
		values := make([]interface{}, len(statuses))
		for i, status := range statuses {
			values[i] = status
		}
		query = badgerhold.Where("Status").In(values...).Index("Status")
	}

	var jobs []models.ExtractionJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.ExtractionJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *StatusStorage) Delete(ctx context.Context, userEmail string) error {
	if err := s.db.Store().Delete(userEmail, &models.ExtractionJob{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return interfaces.ErrJobNotFound
		}
		return fmt.Errorf("failed to delete job status: %w", err)
	}
	return nil
}

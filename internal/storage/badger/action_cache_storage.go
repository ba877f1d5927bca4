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

// ActionCacheStorage implements interfaces.ActionCache for Badger
type ActionCacheStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	now    func() time.Time
}

// NewActionCacheStorage creates a new ActionCacheStorage instance
func NewActionCacheStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ActionCache {
	return &ActionCacheStorage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (s *ActionCacheStorage) Get(ctx context.Context, instruction string) (*models.CachedAction, error) {
	var action models.CachedAction
	if err := s.db.Store().Get(instruction, &action); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrActionNotCached
		}
		return nil, fmt.Errorf("failed to get cached action: %w", err)
	}
	return &action, nil
}

func (s *ActionCacheStorage) Put(ctx context.Context, instruction string, candidate models.ActionCandidate) error {
	now := s.now()
	action := &models.CachedAction{
		Instruction: instruction,
		Candidate:   candidate,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	if err := s.db.Store().Upsert(instruction, action); err != nil {
		return fmt.Errorf("failed to cache action: %w", err)
	}
	return nil
}

func (s *ActionCacheStorage) RecordFailure(ctx context.Context, instruction string) (int, error) {
	failures := 0
	err := s.mutate(instruction, func(action *models.CachedAction) {
		action.Failures++
		failures = action.Failures
	})
	return failures, err
}

func (s *ActionCacheStorage) RecordSuccess(ctx context.Context, instruction string) error {
	return s.mutate(instruction, func(action *models.CachedAction) {
		action.Failures = 0
		action.LastUsedAt = s.now()
	})
}

func (s *ActionCacheStorage) Evict(ctx context.Context, instruction string) error {
	err := s.db.Store().Delete(instruction, &models.CachedAction{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to evict cached action: %w", err)
	}
	return nil
}

func (s *ActionCacheStorage) mutate(instruction string, fn func(*models.CachedAction)) error {
	store := s.db.Store()
	err := store.Badger().Update(func(tx *badger.Txn) error {
		var action models.CachedAction
		if err := store.TxGet(tx, instruction, &action); err != nil {
			return err
		}
		fn(&action)
		return store.TxUpsert(tx, instruction, &action)
	})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrActionNotCached
	}
	if err != nil {
		return fmt.Errorf("failed to update cached action: %w", err)
	}
	return nil
}

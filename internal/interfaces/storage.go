package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/quarry/internal/models"
)

var (
	// ErrJobNotFound is returned when no status record exists for a key
	ErrJobNotFound = errors.New("extraction job not found")
	// ErrActionNotCached is returned on an action cache miss
	ErrActionNotCached = errors.New("action not cached")
	// ErrResultNotFound is returned when no order artifact exists for a key
	ErrResultNotFound = errors.New("result not found")
	// ErrResultExists is returned when a write-once artifact already exists
	ErrResultExists = errors.New("result already exists")
)

// StatusStorage persists one status record per job key
type StatusStorage interface {
	// Get returns ErrJobNotFound when the key has no record
	Get(ctx context.Context, userEmail string) (*models.ExtractionJob, error)

	// Upsert applies a narrative update to the record, creating it if needed
	Upsert(ctx context.Context, userEmail string, update models.StatusUpdate) error

	// CompareAndSwap atomically applies update only when guard accepts the current record.
	// Returns false without writing when the guard rejects.
	CompareAndSwap(ctx context.Context, userEmail string, guard models.StatusGuard, update models.StatusUpdate) (bool, error)

	// List returns jobs in any of the given statuses, or every job when none are given
	List(ctx context.Context, statuses ...models.JobStatus) ([]*models.ExtractionJob, error)

	Delete(ctx context.Context, userEmail string) error
}

// ActionCache maps an instruction to a previously resolved action
type ActionCache interface {
	// Get returns ErrActionNotCached on miss
	Get(ctx context.Context, instruction string) (*models.CachedAction, error)
	Put(ctx context.Context, instruction string, candidate models.ActionCandidate) error

	// RecordFailure increments the consecutive failure count and returns it
	RecordFailure(ctx context.Context, instruction string) (int, error)
	// RecordSuccess resets the consecutive failure count
	RecordSuccess(ctx context.Context, instruction string) error
	Evict(ctx context.Context, instruction string) error
}

// ResultSink receives the extracted order set for a finished run
type ResultSink interface {
	// Put stores the set write-once and returns its location key
	Put(ctx context.Context, userEmail, runID string, orders *models.OrderSet) (string, error)
	// Latest returns the most recently stored set for the user
	Latest(ctx context.Context, userEmail string) (*models.StoredOrderSet, error)
}

// StorageManager bundles the storage backends
type StorageManager interface {
	StatusStorage() StatusStorage
	ActionCache() ActionCache
	ResultSink() ResultSink
	Close() error
}

package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/storage/badger"
	"github.com/ternarybob/quarry/internal/storage/redis"
	"github.com/ternarybob/quarry/internal/storage/s3"
)

// manager closes the optional external backends along with Badger
type manager struct {
	*badger.Manager
	closers []io.Closer
}

func (m *manager) Close() error {
	for _, c := range m.closers {
		c.Close()
	}
	return m.Manager.Close()
}

// NewStorageManager creates the storage manager selected by config.
// Job status always lives in Badger, the action cache and result sink may be external.
func NewStorageManager(ctx context.Context, logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	base, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}

	m := &manager{Manager: base}

	switch config.Storage.ActionCache {
	case "", "badger":
	case "redis":
		cache, err := redis.NewActionCache(ctx, &config.Storage.Redis, logger)
		if err != nil {
			base.Close()
			return nil, err
		}
		base.WithActionCache(cache)
		m.closers = append(m.closers, cache)
	default:
		base.Close()
		return nil, fmt.Errorf("unsupported action cache backend: %s", config.Storage.ActionCache)
	}

	switch config.Storage.Results {
	case "", "badger":
	case "s3":
		sink, err := s3.NewResultSink(ctx, &config.Storage.S3, logger)
		if err != nil {
			m.Close()
			return nil, err
		}
		base.WithResultSink(sink)
	default:
		m.Close()
		return nil, fmt.Errorf("unsupported results backend: %s", config.Storage.Results)
	}

	logger.Info().
		Str("action_cache", orDefault(config.Storage.ActionCache, "badger")).
		Str("results", orDefault(config.Storage.Results, "badger")).
		Msg("Storage initialized")

	return m, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// ExtractionRetrier runs schema-shaped extraction with exponential backoff
type ExtractionRetrier struct {
	maxAttempts    int
	initialBackoff time.Duration
	sleeper        Sleeper
	logger         arbor.ILogger
}

// NewExtractionRetrier creates a retrier making at most maxAttempts calls
func NewExtractionRetrier(maxAttempts int, initialBackoff time.Duration, sleeper Sleeper, logger arbor.ILogger) *ExtractionRetrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	return &ExtractionRetrier{
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		sleeper:        sleeper,
		logger:         logger,
	}
}

// Backoff returns the delay before the given retry (1-based): initial, 2x, 4x ...
func (r *ExtractionRetrier) Backoff(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return r.initialBackoff << uint(retry-1)
}

// Extract calls the provider until it returns a valid OrderSet or attempts run out.
// Only the last attempt's error is returned, wrapped in ErrExtractionFailed.
// Backoff runs before retries only, so nothing sleeps after the final attempt.
func (r *ExtractionRetrier) Extract(ctx context.Context, provider interfaces.ActionProvider, instruction string) (*models.OrderSet, error) {
	schema := models.OrderSetSchema()
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := r.Backoff(attempt - 1)
			r.logger.Debug().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying extraction after backoff")
			if err := r.sleeper.Sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		orders, err := r.attempt(ctx, provider, instruction, schema)
		if err == nil {
			r.logger.Info().
				Int("attempt", attempt).
				Int("orders", len(orders.Orders)).
				Msg("Orders extracted")
			return orders, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		r.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("remaining", r.maxAttempts-attempt).
			Msg("Extraction attempt failed")
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrExtractionFailed, r.maxAttempts, lastErr)
}

func (r *ExtractionRetrier) attempt(ctx context.Context, provider interfaces.ActionProvider, instruction string, schema models.Schema) (*models.OrderSet, error) {
	data, err := provider.Extract(ctx, instruction, schema)
	if err != nil {
		return nil, err
	}
	return models.DecodeOrderSet(data)
}

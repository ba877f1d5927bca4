package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// PaginationDriver expands a "load more" list until it is exhausted
type PaginationDriver struct {
	cache     interfaces.ActionCache
	recipe    *Recipe
	settle    time.Duration
	maxPages  int
	threshold int
	sleeper   Sleeper
	logger    arbor.ILogger
}

// NewPaginationDriver creates a driver that replays the cached load-more action
func NewPaginationDriver(cache interfaces.ActionCache, recipe *Recipe, opts Options, sleeper Sleeper, logger arbor.ILogger) *PaginationDriver {
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	threshold := opts.CacheFailureThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &PaginationDriver{
		cache:     cache,
		recipe:    recipe,
		settle:    opts.PageSettleInterval,
		maxPages:  opts.MaxPages,
		threshold: threshold,
		sleeper:   sleeper,
		logger:    logger,
	}
}

// Walk loads pages until the load-more element disappears and returns how many loads succeeded.
// A located element that keeps failing is evicted and re-resolved once; if the
// replacement fails as well the walk returns ErrPaginationStalled.
func (d *PaginationDriver) Walk(ctx context.Context, provider interfaces.ActionProvider) (int, error) {
	instruction := d.recipe.Instructions.LoadMore
	loads := 0
	failures := 0
	reResolved := false

	for {
		if err := ctx.Err(); err != nil {
			return loads, err
		}
		if d.maxPages > 0 && loads >= d.maxPages {
			d.logger.Info().Int("pages", loads).Msg("Page limit reached")
			return loads, nil
		}

		candidate, found, err := d.resolve(ctx, provider, instruction)
		if err != nil {
			return loads, err
		}
		if !found {
			d.logger.Info().Int("pages", loads).Msg("No load more control, list exhausted")
			return loads, nil
		}

		result, err := provider.ActWith(ctx, candidate)
		if err != nil {
			return loads, fmt.Errorf("failed to load more orders: %w", err)
		}

		switch result.Outcome() {
		case models.ActionOutcomeSucceeded:
			loads++
			failures = 0
			reResolved = false
			if err := d.cache.RecordSuccess(ctx, instruction); err != nil && !errors.Is(err, interfaces.ErrActionNotCached) {
				d.logger.Warn().Err(err).Msg("Failed to record cached action success")
			}
			d.logger.Debug().Int("page", loads).Msg("Loaded more orders")

		case models.ActionOutcomeNotFound:
			d.logger.Info().
				Int("pages", loads).
				Str("message", resultMessage(result)).
				Msg("Load more not found, list exhausted")
			return loads, nil

		case models.ActionOutcomeFailed:
			failures++
			if n, err := d.cache.RecordFailure(ctx, instruction); err == nil && n > failures {
				failures = n
			}

			d.logger.Warn().
				Int("failures", failures).
				Int("threshold", d.threshold).
				Str("message", resultMessage(result)).
				Msg("Load more action failed")

			if failures >= d.threshold {
				if reResolved {
					return loads, fmt.Errorf("%w: load more failed %d times after re-resolving: %s",
						ErrPaginationStalled, failures, resultMessage(result))
				}
				if err := d.cache.Evict(ctx, instruction); err != nil {
					d.logger.Warn().Err(err).Msg("Failed to evict cached action")
				}
				d.logger.Info().Msg("Evicted stale load more action, re-resolving")
				failures = 0
				reResolved = true
				continue
			}
		}

		if err := d.sleeper.Sleep(ctx, d.settle); err != nil {
			return loads, err
		}
	}
}

// resolve reads the cached action, falling back to Observe on a miss or cache error
func (d *PaginationDriver) resolve(ctx context.Context, provider interfaces.ActionProvider, instruction string) (models.ActionCandidate, bool, error) {
	cached, err := d.cache.Get(ctx, instruction)
	if err == nil {
		return cached.Candidate, true, nil
	}
	if !errors.Is(err, interfaces.ErrActionNotCached) {
		d.logger.Warn().Err(err).Msg("Action cache read failed, resolving")
	}

	candidates, err := provider.Observe(ctx, instruction)
	if err != nil {
		return models.ActionCandidate{}, false, fmt.Errorf("failed to resolve load more: %w", err)
	}

	candidate, ok := d.recipe.Matchers.ShowMore.First(candidates)
	if !ok {
		return models.ActionCandidate{}, false, nil
	}

	if err := d.cache.Put(ctx, instruction, candidate); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to cache load more action")
	}

	d.logger.Debug().
		Str("description", candidate.Description).
		Str("locator", candidate.Locator).
		Msg("Resolved load more action")

	return candidate, true, nil
}

func resultMessage(result *models.ActionResult) string {
	if result == nil {
		return ""
	}
	return result.Message
}

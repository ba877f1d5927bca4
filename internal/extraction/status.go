package extraction

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// StatusRecorder writes the narrative status of one run.
// Writes only land while the record is non-terminal and still owned by the run.
type StatusRecorder struct {
	store     interfaces.StatusStorage
	events    interfaces.EventService
	logger    arbor.ILogger
	userEmail string
	runID     string
	current   models.JobStatus
}

func newStatusRecorder(store interfaces.StatusStorage, events interfaces.EventService, logger arbor.ILogger, userEmail, runID string) *StatusRecorder {
	return &StatusRecorder{
		store:     store,
		events:    events,
		logger:    logger,
		userEmail: userEmail,
		runID:     runID,
		current:   models.JobStatusStarting,
	}
}

// Current returns the last status this run wrote
func (r *StatusRecorder) Current() models.JobStatus {
	return r.current
}

// Transition persists update after checking the state machine
func (r *StatusRecorder) Transition(ctx context.Context, update models.StatusUpdate) error {
	if !r.current.CanTransition(update.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.current, update.Status)
	}

	owned := func(job *models.ExtractionJob) bool {
		return job != nil && job.RunID == r.runID && !job.Status.IsTerminal()
	}

	swapped, err := r.store.CompareAndSwap(ctx, r.userEmail, owned, update)
	if err != nil {
		return fmt.Errorf("failed to record status %s: %w", update.Status, err)
	}
	if !swapped {
		return ErrRunSuperseded
	}

	r.logger.Info().
		Str("user_email", r.userEmail).
		Str("from", string(r.current)).
		Str("to", string(update.Status)).
		Str("message", update.Message).
		Msg("Job status changed")

	r.current = update.Status
	r.publish(ctx)
	return nil
}

func (r *StatusRecorder) publish(ctx context.Context) {
	if r.events == nil {
		return
	}

	job, err := r.store.Get(ctx, r.userEmail)
	if err != nil {
		r.logger.Warn().Err(err).Str("user_email", r.userEmail).Msg("Failed to read status for event")
		return
	}

	if err := r.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventJobStatusChanged,
		Payload: *job,
	}); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to publish status event")
	}
}

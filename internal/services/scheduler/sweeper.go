package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// RunTracker reports runs owned by this process
type RunTracker interface {
	IsRunning(userEmail string) bool
}

// Sweeper periodically fails in-flight jobs that stopped making progress,
// for example after the owning process crashed
type Sweeper struct {
	store      interfaces.StatusStorage
	runs       RunTracker
	events     interfaces.EventService
	schedule   string
	staleAfter time.Duration
	now        func() time.Time
	logger     arbor.ILogger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper. events may be nil.
func NewSweeper(store interfaces.StatusStorage, runs RunTracker, events interfaces.EventService, schedule string, staleAfter time.Duration, logger arbor.ILogger) *Sweeper {
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Sweeper{
		store:      store,
		runs:       runs,
		events:     events,
		schedule:   schedule,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger,
		cron:       cron.New(),
	}
}

// Start registers the sweep on the cron schedule
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runScheduled); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Str("stale_after", s.staleAfter.String()).
		Msg("Stale job sweeper started")
	return nil
}

// Stop halts the schedule and waits for an in-progress sweep
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Stale job sweeper stopped")
}

func (s *Sweeper) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Stale job sweep failed")
	}
}

// Sweep marks stale jobs as error and returns how many were marked
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	jobs, err := s.store.List(ctx, models.JobStatusStarting, models.JobStatusAwaitingLogin, models.JobStatusExtracting)
	if err != nil {
		return 0, fmt.Errorf("failed to list active jobs: %w", err)
	}

	cutoff := s.now().Add(-s.staleAfter)
	marked := 0

	for _, job := range jobs {
		if !job.Timestamp.Before(cutoff) {
			continue
		}
		if s.runs != nil && s.runs.IsRunning(job.UserEmail) {
			continue
		}

		observed := *job
		swapped, err := s.store.CompareAndSwap(ctx, job.UserEmail, func(current *models.ExtractionJob) bool {
			// Only fail the exact record we judged stale
			return current != nil &&
				current.Status == observed.Status &&
				current.RunID == observed.RunID &&
				current.Timestamp.Equal(observed.Timestamp)
		}, models.StatusUpdate{
			Status:  models.JobStatusError,
			Message: fmt.Sprintf("stale: no progress since %s", observed.Timestamp.UTC().Format(time.RFC3339)),
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("user_email", job.UserEmail).Msg("Failed to mark stale job")
			continue
		}
		if !swapped {
			continue
		}

		marked++
		s.logger.Warn().
			Str("user_email", job.UserEmail).
			Str("status", string(observed.Status)).
			Str("run_id", observed.RunID).
			Msg("Marked stale job as error")

		s.publish(ctx, job.UserEmail)
	}

	return marked, nil
}

func (s *Sweeper) publish(ctx context.Context, userEmail string) {
	if s.events == nil {
		return
	}
	job, err := s.store.Get(ctx, userEmail)
	if err != nil {
		return
	}
	if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobStatusChanged, Payload: *job}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish status event")
	}
}

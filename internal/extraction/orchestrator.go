package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// RunResult summarises one orchestrator run
type RunResult struct {
	UserEmail string
	RunID     string
	// Skipped is true when another run owns the job or it already finished
	Skipped   bool
	Pages     int
	Orders    *models.OrderSet
	ResultKey string
}

// Orchestrator sequences login, pagination, extraction and the result handoff for one job
type Orchestrator struct {
	store     interfaces.StatusStorage
	cache     interfaces.ActionCache
	sink      interfaces.ResultSink
	providers interfaces.ProviderFactory
	events    interfaces.EventService
	recipe    *Recipe
	opts      Options
	sleeper   Sleeper
	newRunID  func() string
	logger    arbor.ILogger
}

// NewOrchestrator creates an orchestrator. events may be nil.
func NewOrchestrator(
	store interfaces.StatusStorage,
	cache interfaces.ActionCache,
	sink interfaces.ResultSink,
	providers interfaces.ProviderFactory,
	events interfaces.EventService,
	recipe *Recipe,
	opts Options,
	logger arbor.ILogger,
) *Orchestrator {
	if recipe == nil {
		recipe = DefaultRecipe()
	}
	return &Orchestrator{
		store:     store,
		cache:     cache,
		sink:      sink,
		providers: providers,
		events:    events,
		recipe:    recipe,
		opts:      opts,
		sleeper:   TimerSleeper{},
		newRunID:  common.NewRunID,
		logger:    logger,
	}
}

// SetSleeper replaces the timer used for polls, page settles and backoff
func (o *Orchestrator) SetSleeper(sleeper Sleeper) {
	o.sleeper = sleeper
}

// Recipe returns the recipe the orchestrator walks
func (o *Orchestrator) Recipe() *Recipe {
	return o.recipe
}

// claimable admits a run only for a new key or a queued, unclaimed record
func claimable(current *models.ExtractionJob) bool {
	return current == nil || (current.Status == models.JobStatusStarting && current.RunID == "")
}

// Run drives the job for userEmail to completed or error.
// A job owned by another run, or already past starting, is skipped without side effects.
func (o *Orchestrator) Run(ctx context.Context, userEmail string) (*RunResult, error) {
	runID := o.newRunID()

	claimed, err := o.store.CompareAndSwap(ctx, userEmail, claimable, models.StatusUpdate{
		Status:  models.JobStatusStarting,
		Message: "Starting extraction",
		RunID:   runID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if !claimed {
		o.logger.Info().Str("user_email", userEmail).Msg("Job already claimed or finished, skipping")
		return &RunResult{UserEmail: userEmail, Skipped: true}, nil
	}

	logger := o.logger.WithCorrelationId(runID)
	recorder := newStatusRecorder(o.store, o.events, logger, userEmail, runID)
	result := &RunResult{UserEmail: userEmail, RunID: runID}

	logger.Info().Str("user_email", userEmail).Msg("Extraction run started")

	if err := o.execute(ctx, userEmail, recorder, result, logger); err != nil {
		return result, o.fail(ctx, recorder, userEmail, err, logger)
	}

	logger.Info().
		Str("user_email", userEmail).
		Int("pages", result.Pages).
		Int("orders", len(result.Orders.Orders)).
		Str("result_key", result.ResultKey).
		Msg("Extraction run completed")

	o.publish(ctx, interfaces.EventExtractionCompleted, models.ExtractionResult{
		UserEmail: userEmail,
		RunID:     runID,
		ResultKey: result.ResultKey,
		Orders:    result.Orders,
	})

	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, userEmail string, recorder *StatusRecorder, result *RunResult, logger arbor.ILogger) error {
	provider, err := o.providers.Open(ctx, userEmail)
	if err != nil {
		return fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close browser session")
		}
	}()

	if err := recorder.Transition(ctx, models.StatusUpdate{
		Status:    models.JobStatusStarting,
		Message:   "Browser session opened",
		SessionID: provider.SessionID(),
	}); err != nil {
		return err
	}

	gate := NewLoginGate(o.recipe, o.opts.LoginPollInterval, o.opts.LoginTimeout, o.sleeper, logger)
	if err := gate.Wait(ctx, provider, recorder); err != nil {
		return err
	}

	for _, step := range []string{o.recipe.Instructions.OpenNavigation, o.recipe.Instructions.OpenOrders} {
		if err := o.act(ctx, provider, step); err != nil {
			return err
		}
	}

	pager := NewPaginationDriver(o.cache, o.recipe, o.opts, o.sleeper, logger)
	pages, err := pager.Walk(ctx, provider)
	if err != nil {
		return err
	}
	result.Pages = pages

	if err := recorder.Transition(ctx, models.StatusUpdate{
		Status:  models.JobStatusExtracting,
		Message: fmt.Sprintf("Loaded %d additional pages, extracting orders", pages),
	}); err != nil {
		return err
	}

	retrier := NewExtractionRetrier(o.opts.MaxAttempts, o.opts.InitialBackoff, o.sleeper, logger)
	orders, err := retrier.Extract(ctx, provider, o.recipe.Instructions.ExtractOrders)
	if err != nil {
		return err
	}
	result.Orders = orders

	key, err := o.sink.Put(ctx, userEmail, result.RunID, orders)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSinkFailed, err)
	}
	result.ResultKey = key

	return recorder.Transition(ctx, models.StatusUpdate{
		Status:     models.JobStatusCompleted,
		Message:    fmt.Sprintf("Extracted %d orders", len(orders.Orders)),
		OrderCount: len(orders.Orders),
		ResultKey:  key,
	})
}

// act performs a fixed setup step; any failure is fatal
func (o *Orchestrator) act(ctx context.Context, provider interfaces.ActionProvider, instruction string) error {
	result, err := provider.Act(ctx, instruction)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrActionFailed, instruction, err)
	}
	if result.Outcome() != models.ActionOutcomeSucceeded {
		return fmt.Errorf("%w: %q: %s", ErrActionFailed, instruction, resultMessage(result))
	}
	return nil
}

// fail records the error status and returns err.
// The write uses a detached context so cancelled and timed-out runs are still recorded.
func (o *Orchestrator) fail(ctx context.Context, recorder *StatusRecorder, userEmail string, err error, logger arbor.ILogger) error {
	logger.Error().Err(err).Str("user_email", userEmail).Str("status", string(recorder.Current())).Msg("Extraction run failed")

	if errors.Is(err, ErrRunSuperseded) {
		return err
	}

	writeCtx := context.WithoutCancel(ctx)
	if werr := recorder.Transition(writeCtx, models.StatusUpdate{
		Status:  models.JobStatusError,
		Message: err.Error(),
	}); werr != nil {
		logger.Warn().Err(werr).Msg("Failed to record error status")
	}

	if job, gerr := o.store.Get(writeCtx, userEmail); gerr == nil {
		o.publish(writeCtx, interfaces.EventExtractionFailed, *job)
	}

	return err
}

func (o *Orchestrator) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		o.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}

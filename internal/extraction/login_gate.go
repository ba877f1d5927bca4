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

// LoginGate holds a run until the user has signed in out of band
type LoginGate struct {
	recipe       *Recipe
	pollInterval time.Duration
	timeout      time.Duration
	sleeper      Sleeper
	logger       arbor.ILogger
}

// NewLoginGate creates a gate polling every pollInterval for at most timeout (0 = no limit)
func NewLoginGate(recipe *Recipe, pollInterval, timeout time.Duration, sleeper Sleeper, logger arbor.ILogger) *LoginGate {
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	return &LoginGate{
		recipe:       recipe,
		pollInterval: pollInterval,
		timeout:      timeout,
		sleeper:      sleeper,
		logger:       logger,
	}
}

// Wait probes for a login affordance and, when one is shown, polls until the
// signed-in marker appears. It leaves the job in extracting on success.
func (g *LoginGate) Wait(ctx context.Context, provider interfaces.ActionProvider, recorder *StatusRecorder) error {
	candidates, err := provider.Observe(ctx, g.recipe.Instructions.DetectLogin)
	if err != nil {
		return fmt.Errorf("failed to probe for login: %w", err)
	}

	if !g.recipe.Matchers.Login.Any(candidates) {
		g.logger.Info().Msg("No login prompt, session already signed in")
		return recorder.Transition(ctx, models.StatusUpdate{
			Status:  models.JobStatusExtracting,
			Message: "Already signed in, opening order history",
		})
	}

	liveViewURL := g.liveViewURL(ctx, provider)
	if err := recorder.Transition(ctx, models.StatusUpdate{
		Status:      models.JobStatusAwaitingLogin,
		Message:     "Waiting for the user to sign in",
		LiveViewURL: liveViewURL,
	}); err != nil {
		return err
	}

	if err := g.poll(ctx, provider); err != nil {
		return err
	}

	g.dismissOverlay(ctx, provider)

	return recorder.Transition(ctx, models.StatusUpdate{
		Status:  models.JobStatusExtracting,
		Message: "Signed in, opening order history",
	})
}

func (g *LoginGate) poll(ctx context.Context, provider interfaces.ActionProvider) error {
	waitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var waited time.Duration
	for polls := 1; ; polls++ {
		if err := g.sleeper.Sleep(waitCtx, g.pollInterval); err != nil {
			return g.waitError(ctx, err)
		}
		waited += g.pollInterval

		candidates, err := provider.Observe(waitCtx, g.recipe.Instructions.DetectCart)
		switch {
		case err != nil && waitCtx.Err() != nil:
			return g.waitError(ctx, waitCtx.Err())
		case err != nil:
			g.logger.Warn().Err(err).Int("poll", polls).Msg("Login probe failed, polling again")
		case g.recipe.Matchers.Cart.Any(candidates):
			g.logger.Info().Int("polls", polls).Msg("Login detected")
			return nil
		default:
			g.logger.Debug().Int("poll", polls).Msg("Still waiting for login")
		}

		if g.timeout > 0 && waited >= g.timeout {
			return fmt.Errorf("%w after %s", ErrLoginTimeout, g.timeout)
		}
	}
}

// waitError maps the expiry of the gate's own deadline to ErrLoginTimeout
func (g *LoginGate) waitError(ctx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrLoginTimeout, g.timeout)
	}
	return err
}

func (g *LoginGate) liveViewURL(ctx context.Context, provider interfaces.ActionProvider) string {
	viewer, ok := provider.(interfaces.LiveViewer)
	if !ok {
		return ""
	}
	url, err := viewer.LiveViewURL(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Failed to resolve live view URL")
		return ""
	}
	return url
}

// dismissOverlay closes a popup left over after login; failures are not fatal
func (g *LoginGate) dismissOverlay(ctx context.Context, provider interfaces.ActionProvider) {
	candidates, err := provider.Observe(ctx, g.recipe.Instructions.DetectOverlay)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Failed to probe for overlay")
		return
	}
	if !g.recipe.Matchers.Overlay.Any(candidates) {
		return
	}

	result, err := provider.Act(ctx, g.recipe.Instructions.DismissOverlay)
	switch {
	case err != nil:
		g.logger.Warn().Err(err).Msg("Failed to dismiss overlay")
	case result.Outcome() != models.ActionOutcomeSucceeded:
		g.logger.Warn().Str("message", resultMessage(result)).Msg("Overlay dismissal reported failure")
	default:
		g.logger.Debug().Msg("Overlay dismissed")
	}
}

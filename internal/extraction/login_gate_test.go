package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/models"
)

var (
	signInButton = models.ActionCandidate{Description: "Sign in button", Locator: "/html/body/header/a[1]"}
	cartButton   = models.ActionCandidate{Description: "Cart with 0 items", Locator: "/html/body/header/button[3]"}
	closeButton  = models.ActionCandidate{Description: "Close dialog", Locator: "/html/body/div[4]/button"}
)

// claimedRecorder seeds a claimed starting record and returns a recorder owning it
func claimedRecorder(t *testing.T, store *fakeStatusStore, userEmail string) *StatusRecorder {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), userEmail, models.StatusUpdate{
		Status: models.JobStatusStarting,
		RunID:  "run_test",
	}))
	return newStatusRecorder(store, nil, arbor.NewLogger(), userEmail, "run_test")
}

func TestLoginGate_NoLoginPromptGoesStraightToExtracting(t *testing.T) {
	recipe := DefaultRecipe()
	store := newFakeStatusStore()
	recorder := claimedRecorder(t, store, "a@example.com")
	provider := newFakeProvider()
	sleeper := &recordingSleeper{}

	gate := NewLoginGate(recipe, 30*time.Second, 0, sleeper, arbor.NewLogger())
	require.NoError(t, gate.Wait(context.Background(), provider, recorder))

	assert.Equal(t, []models.JobStatus{models.JobStatusStarting, models.JobStatusExtracting}, store.statuses())
	assert.Equal(t, 0, provider.countObserve(recipe.Instructions.DetectCart))
	assert.Empty(t, sleeper.recorded())
}

func TestLoginGate_CartMatchOnSecondPoll(t *testing.T) {
	recipe := DefaultRecipe()
	store := newFakeStatusStore()
	recorder := claimedRecorder(t, store, "a@example.com")

	provider := newFakeProvider()
	provider.liveView = "https://live.example/session-1"
	provider.observe[recipe.Instructions.DetectLogin] = [][]models.ActionCandidate{{signInButton}}
	provider.observe[recipe.Instructions.DetectCart] = [][]models.ActionCandidate{
		{{Description: "Cart icon", Locator: "/html/body/header/svg"}},
		{cartButton},
	}
	sleeper := &recordingSleeper{}

	gate := NewLoginGate(recipe, 30*time.Second, 0, sleeper, arbor.NewLogger())
	require.NoError(t, gate.Wait(context.Background(), liveViewProvider{provider}, recorder))

	assert.Equal(t, 2, provider.countObserve(recipe.Instructions.DetectCart))
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, sleeper.recorded())
	assert.Equal(t, []models.JobStatus{
		models.JobStatusStarting,
		models.JobStatusAwaitingLogin,
		models.JobStatusExtracting,
	}, store.statuses())

	awaiting := store.history[1]
	assert.Equal(t, "https://live.example/session-1", awaiting.LiveViewURL)

	job, err := store.Get(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Empty(t, job.LiveViewURL)
}

func TestLoginGate_DismissesOverlay(t *testing.T) {
	recipe := DefaultRecipe()
	store := newFakeStatusStore()
	recorder := claimedRecorder(t, store, "a@example.com")

	provider := newFakeProvider()
	provider.observe[recipe.Instructions.DetectLogin] = [][]models.ActionCandidate{{signInButton}}
	provider.observe[recipe.Instructions.DetectCart] = [][]models.ActionCandidate{{cartButton}}
	provider.observe[recipe.Instructions.DetectOverlay] = [][]models.ActionCandidate{{closeButton}}
	provider.act[recipe.Instructions.DismissOverlay] = []*models.ActionResult{{Success: false, Attempted: true, Message: "covered"}}

	gate := NewLoginGate(recipe, time.Second, 0, &recordingSleeper{}, arbor.NewLogger())
	require.NoError(t, gate.Wait(context.Background(), provider, recorder))

	assert.Equal(t, []string{recipe.Instructions.DismissOverlay}, provider.actCalls)
	assert.Equal(t, models.JobStatusExtracting, recorder.Current())
}

func TestLoginGate_NoOverlayNoDismiss(t *testing.T) {
	recipe := DefaultRecipe()
	store := newFakeStatusStore()
	recorder := claimedRecorder(t, store, "a@example.com")

	provider := newFakeProvider()
	provider.observe[recipe.Instructions.DetectLogin] = [][]models.ActionCandidate{{signInButton}}
	provider.observe[recipe.Instructions.DetectCart] = [][]models.ActionCandidate{{cartButton}}

	gate := NewLoginGate(recipe, time.Second, 0, &recordingSleeper{}, arbor.NewLogger())
	require.NoError(t, gate.Wait(context.Background(), provider, recorder))

	assert.Empty(t, provider.actCalls)
}

func TestLoginGate_Timeout(t *testing.T) {
	recipe := DefaultRecipe()
	store := newFakeStatusStore()
	recorder := claimedRecorder(t, store, "a@example.com")

	provider := newFakeProvider()
	provider.observe[recipe.Instructions.DetectLogin] = [][]models.ActionCandidate{{signInButton}}

	sleeper := &recordingSleeper{}
	gate := NewLoginGate(recipe, 30*time.Second, 2*time.Minute, sleeper, arbor.NewLogger())
	err := gate.Wait(context.Background(), provider, recorder)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginTimeout)
	assert.Equal(t, 4, provider.countObserve(recipe.Instructions.DetectCart))
	assert.Equal(t, models.JobStatusAwaitingLogin, recorder.Current())
}

func TestLoginGate_CancelledWhileWaiting(t *testing.T) {
	recipe := DefaultRecipe()
	store := newFakeStatusStore()
	recorder := claimedRecorder(t, store, "a@example.com")

	provider := newFakeProvider()
	provider.observe[recipe.Instructions.DetectLogin] = [][]models.ActionCandidate{{signInButton}}

	ctx, cancel := context.WithCancel(context.Background())
	sleeper := SleeperFunc(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	gate := NewLoginGate(recipe, 30*time.Second, 10*time.Minute, sleeper, arbor.NewLogger())
	err := gate.Wait(ctx, provider, recorder)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrLoginTimeout))
}

func TestLoginGate_ProbeErrorIsFatal(t *testing.T) {
	store := newFakeStatusStore()
	recorder := claimedRecorder(t, store, "a@example.com")

	provider := &erroringObserveProvider{fakeProvider: newFakeProvider()}
	gate := NewLoginGate(DefaultRecipe(), time.Second, 0, &recordingSleeper{}, arbor.NewLogger())

	err := gate.Wait(context.Background(), provider, recorder)
	assert.Error(t, err)
	assert.Equal(t, models.JobStatusStarting, recorder.Current())
}

type erroringObserveProvider struct {
	*fakeProvider
}

func (p *erroringObserveProvider) Observe(ctx context.Context, instruction string) ([]models.ActionCandidate, error) {
	return nil, errors.New("page crashed")
}

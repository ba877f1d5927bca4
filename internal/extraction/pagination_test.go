package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/models"
)

var showMore = models.ActionCandidate{Description: "Show more orders button", Locator: "/html/body/main/button[2]", Method: "click"}

func newTestDriver(cache *fakeCache, opts Options, sleeper Sleeper) *PaginationDriver {
	return NewPaginationDriver(cache, DefaultRecipe(), opts, sleeper, arbor.NewLogger())
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.PageSettleInterval = 10 * time.Second
	return opts
}

func TestPaginationDriver_CachedActionSkipsObserve(t *testing.T) {
	recipe := DefaultRecipe()
	cache := newFakeCache()
	require.NoError(t, cache.Put(context.Background(), recipe.Instructions.LoadMore, showMore))

	provider := newFakeProvider()
	provider.actWith = []*models.ActionResult{
		{Success: true}, {Success: true}, {Success: true}, {Success: false, Message: "gone"},
	}

	pages, err := newTestDriver(cache, testOptions(), &recordingSleeper{}).Walk(context.Background(), provider)

	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.Equal(t, 0, provider.countObserve(recipe.Instructions.LoadMore))
	assert.Len(t, provider.actWithCalls, 4)
	for _, call := range provider.actWithCalls {
		assert.Equal(t, showMore, call)
	}
}

func TestPaginationDriver_FailureOnSecondCallStops(t *testing.T) {
	recipe := DefaultRecipe()
	provider := newFakeProvider()
	provider.observe[recipe.Instructions.LoadMore] = [][]models.ActionCandidate{{showMore}}
	provider.actWith = []*models.ActionResult{
		{Success: true, Message: "loaded"},
		{Success: false, Message: "x"},
	}
	sleeper := &recordingSleeper{}

	pages, err := newTestDriver(newFakeCache(), testOptions(), sleeper).Walk(context.Background(), provider)

	require.NoError(t, err)
	assert.Len(t, provider.actWithCalls, 2)
	assert.Equal(t, 1, pages)
	assert.Equal(t, []time.Duration{10 * time.Second}, sleeper.recorded())
}

func TestPaginationDriver_ResolvesAndCachesFilteredCandidate(t *testing.T) {
	recipe := DefaultRecipe()
	cache := newFakeCache()
	provider := newFakeProvider()
	provider.observe[recipe.Instructions.LoadMore] = [][]models.ActionCandidate{{
		{Description: "Show more text", Locator: "/html/body/main/button[2]/text()"},
		{Description: "Cart button", Locator: "/html/body/header/button"},
		showMore,
	}}
	provider.actWith = []*models.ActionResult{{Success: true}, {Success: false}}

	_, err := newTestDriver(cache, testOptions(), &recordingSleeper{}).Walk(context.Background(), provider)
	require.NoError(t, err)

	cached, err := cache.Get(context.Background(), recipe.Instructions.LoadMore)
	require.NoError(t, err)
	assert.Equal(t, showMore, cached.Candidate)
	assert.Equal(t, 1, provider.countObserve(recipe.Instructions.LoadMore))
}

func TestPaginationDriver_NoCandidateEndsWalk(t *testing.T) {
	recipe := DefaultRecipe()
	provider := newFakeProvider()
	provider.observe[recipe.Instructions.LoadMore] = [][]models.ActionCandidate{{
		{Description: "Show more", Locator: "//div/text()"},
	}}

	pages, err := newTestDriver(newFakeCache(), testOptions(), &recordingSleeper{}).Walk(context.Background(), provider)

	require.NoError(t, err)
	assert.Equal(t, 0, pages)
	assert.Empty(t, provider.actWithCalls)
}

func TestPaginationDriver_TwoFailedReplaysEvict(t *testing.T) {
	recipe := DefaultRecipe()
	cache := newFakeCache()
	stale := models.ActionCandidate{Description: "Show more", Locator: "//old/button"}
	require.NoError(t, cache.Put(context.Background(), recipe.Instructions.LoadMore, stale))

	provider := newFakeProvider()
	provider.observe[recipe.Instructions.LoadMore] = [][]models.ActionCandidate{{showMore}}
	provider.actWith = []*models.ActionResult{
		{Success: false, Attempted: true, Message: "detached"},
		{Success: false, Attempted: true, Message: "detached"},
		{Success: true},
		{Success: false},
	}

	pages, err := newTestDriver(cache, testOptions(), &recordingSleeper{}).Walk(context.Background(), provider)

	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	assert.Equal(t, []string{recipe.Instructions.LoadMore}, cache.evicted)
	assert.Equal(t, 1, provider.countObserve(recipe.Instructions.LoadMore))
	require.Len(t, provider.actWithCalls, 4)
	assert.Equal(t, stale, provider.actWithCalls[1])
	assert.Equal(t, showMore, provider.actWithCalls[2])

	cached, err := cache.Get(context.Background(), recipe.Instructions.LoadMore)
	require.NoError(t, err)
	assert.Equal(t, showMore, cached.Candidate)
}

func TestPaginationDriver_ReResolvedFailureStalls(t *testing.T) {
	recipe := DefaultRecipe()
	provider := newFakeProvider()
	provider.observe[recipe.Instructions.LoadMore] = [][]models.ActionCandidate{{showMore}}
	provider.actWith = []*models.ActionResult{{Success: false, Attempted: true, Message: "intercepted"}}

	_, err := newTestDriver(newFakeCache(), testOptions(), &recordingSleeper{}).Walk(context.Background(), provider)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaginationStalled)
	assert.Len(t, provider.actWithCalls, 4)
	assert.Equal(t, 2, provider.countObserve(recipe.Instructions.LoadMore))
}

func TestPaginationDriver_MaxPages(t *testing.T) {
	recipe := DefaultRecipe()
	cache := newFakeCache()
	require.NoError(t, cache.Put(context.Background(), recipe.Instructions.LoadMore, showMore))

	provider := newFakeProvider()
	provider.actWith = []*models.ActionResult{{Success: true}}

	opts := testOptions()
	opts.MaxPages = 3
	pages, err := newTestDriver(cache, opts, &recordingSleeper{}).Walk(context.Background(), provider)

	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.Len(t, provider.actWithCalls, 3)
}

func TestPaginationDriver_CacheErrorFallsBackToObserve(t *testing.T) {
	recipe := DefaultRecipe()
	cache := newFakeCache()
	cache.getErr = assert.AnError

	provider := newFakeProvider()
	provider.observe[recipe.Instructions.LoadMore] = [][]models.ActionCandidate{{showMore}}
	provider.actWith = []*models.ActionResult{{Success: false}}

	_, err := newTestDriver(cache, testOptions(), &recordingSleeper{}).Walk(context.Background(), provider)

	require.NoError(t, err)
	assert.Equal(t, 1, provider.countObserve(recipe.Instructions.LoadMore))
}

func TestPaginationDriver_CancelledDuringSettle(t *testing.T) {
	recipe := DefaultRecipe()
	cache := newFakeCache()
	require.NoError(t, cache.Put(context.Background(), recipe.Instructions.LoadMore, showMore))

	provider := newFakeProvider()
	provider.actWith = []*models.ActionResult{{Success: true}}

	ctx, cancel := context.WithCancel(context.Background())
	sleeper := SleeperFunc(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	pages, err := newTestDriver(cache, testOptions(), sleeper).Walk(ctx, provider)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, pages)
}

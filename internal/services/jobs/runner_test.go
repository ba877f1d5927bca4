package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/extraction"
)

// blockingExtractor runs until its context ends or release is closed
type blockingExtractor struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	release chan struct{}
	errs    chan error
}

func newBlockingExtractor() *blockingExtractor {
	return &blockingExtractor{
		started: make(chan string, 10),
		release: make(chan struct{}),
		errs:    make(chan error, 10),
	}
}

func (e *blockingExtractor) Run(ctx context.Context, userEmail string) (*extraction.RunResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, userEmail)
	e.mu.Unlock()
	e.started <- userEmail

	select {
	case <-ctx.Done():
		e.errs <- ctx.Err()
		return nil, ctx.Err()
	case <-e.release:
		e.errs <- nil
		return &extraction.RunResult{UserEmail: userEmail}, nil
	}
}

func (e *blockingExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to start")
		return ""
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to end")
		return nil
	}
}

func TestRunner_SingleFlightPerKey(t *testing.T) {
	ext := newBlockingExtractor()
	r := NewRunner(ext, 0, arbor.NewLogger())

	require.True(t, r.Start("a@example.com"))
	waitFor(t, ext.started)

	// a second trigger while running is queued, not run concurrently
	require.True(t, r.Start("a@example.com"))
	require.True(t, r.Start("a@example.com"))
	assert.True(t, r.IsRunning("a@example.com"))

	require.True(t, r.Start("b@example.com"))
	waitFor(t, ext.started)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, r.Running())

	close(ext.release)
	assert.Eventually(t, func() bool { return ext.callCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(r.Running()) == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, 3, ext.callCount())
}

func TestRunner_CancelStopsRun(t *testing.T) {
	ext := newBlockingExtractor()
	r := NewRunner(ext, 0, arbor.NewLogger())

	require.True(t, r.Start("a@example.com"))
	waitFor(t, ext.started)

	assert.True(t, r.Cancel("a@example.com"))
	assert.ErrorIs(t, waitErr(t, ext.errs), context.Canceled)

	assert.Eventually(t, func() bool { return !r.IsRunning("a@example.com") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, r.Cancel("a@example.com"))

	// key is free again once the run has ended
	require.True(t, r.Start("a@example.com"))
	waitFor(t, ext.started)
	close(ext.release)
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRunner_TimeoutBoundsRun(t *testing.T) {
	ext := newBlockingExtractor()
	r := NewRunner(ext, 20*time.Millisecond, arbor.NewLogger())

	require.True(t, r.Start("a@example.com"))
	waitFor(t, ext.started)
	assert.ErrorIs(t, waitErr(t, ext.errs), context.DeadlineExceeded)
}

func TestRunner_ShutdownCancelsAndRejectsNewRuns(t *testing.T) {
	ext := newBlockingExtractor()
	r := NewRunner(ext, 0, arbor.NewLogger())

	require.True(t, r.Start("a@example.com"))
	waitFor(t, ext.started)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.ErrorIs(t, waitErr(t, ext.errs), context.Canceled)
	assert.False(t, r.Start("b@example.com"))
}

type panickingExtractor struct{}

func (panickingExtractor) Run(ctx context.Context, userEmail string) (*extraction.RunResult, error) {
	panic("boom")
}

func TestRunner_PanicReleasesKey(t *testing.T) {
	r := NewRunner(panickingExtractor{}, 0, arbor.NewLogger())

	require.True(t, r.Start("a@example.com"))
	assert.Eventually(t, func() bool { return !r.IsRunning("a@example.com") }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, r.Shutdown(context.Background()))
}

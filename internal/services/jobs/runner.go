// -----------------------------------------------------------------------
// Job Runner - one goroutine per extraction, keyed by user email
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/extraction"
)

// Extractor runs one extraction job to a terminal state
type Extractor interface {
	Run(ctx context.Context, userEmail string) (*extraction.RunResult, error)
}

type runningJob struct {
	cancel    context.CancelFunc
	startedAt time.Time
}

// Runner starts extraction runs in the background and tracks them per key
type Runner struct {
	extractor Extractor
	timeout   time.Duration
	logger    arbor.ILogger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	running map[string]*runningJob
	// pending holds keys re-triggered while their previous run was still exiting
	pending map[string]bool
	wg      sync.WaitGroup
}

// NewRunner creates a runner. timeout <= 0 leaves runs unbounded.
func NewRunner(extractor Extractor, timeout time.Duration, logger arbor.ILogger) *Runner {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Runner{
		extractor:  extractor,
		timeout:    timeout,
		logger:     logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		running:    make(map[string]*runningJob),
		pending:    make(map[string]bool),
	}
}

// Start launches a run for userEmail. A key that is still running is queued for one
// more run after the current one ends. Returns false once the runner is shut down.
func (r *Runner) Start(userEmail string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.baseCtx.Err() != nil {
		return false
	}
	if _, exists := r.running[userEmail]; exists {
		r.pending[userEmail] = true
		r.logger.Debug().Str("user_email", userEmail).Msg("Run in progress, queued another")
		return true
	}

	r.launch(userEmail)
	return true
}

// launch starts the goroutine for userEmail; r.mu must be held
func (r *Runner) launch(userEmail string) {
	var ctx context.Context
	var cancel context.CancelFunc
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(r.baseCtx, r.timeout)
	} else {
		ctx, cancel = context.WithCancel(r.baseCtx)
	}

	job := &runningJob{cancel: cancel, startedAt: time.Now()}
	r.running[userEmail] = job
	r.wg.Add(1)

	common.SafeGo(r.logger, "extraction:"+userEmail, func() {
		defer r.wg.Done()
		defer r.finish(userEmail, job)

		result, err := r.extractor.Run(ctx, userEmail)
		switch {
		case err != nil:
			r.logger.Warn().Err(err).Str("user_email", userEmail).Msg("Extraction ended with error")
		case result != nil && result.Skipped:
			r.logger.Debug().Str("user_email", userEmail).Msg("Extraction skipped")
		default:
			r.logger.Info().
				Str("user_email", userEmail).
				Str("duration", time.Since(job.startedAt).Round(time.Millisecond).String()).
				Msg("Extraction finished")
		}
	})
}

func (r *Runner) finish(userEmail string, job *runningJob) {
	job.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[userEmail] != job {
		return
	}
	delete(r.running, userEmail)

	if r.pending[userEmail] {
		delete(r.pending, userEmail)
		if r.baseCtx.Err() == nil {
			r.launch(userEmail)
		}
	}
}

// Cancel stops the run for userEmail. Returns false when nothing is running.
func (r *Runner) Cancel(userEmail string) bool {
	r.mu.Lock()
	job, exists := r.running[userEmail]
	delete(r.pending, userEmail)
	r.mu.Unlock()

	if !exists {
		return false
	}

	r.logger.Info().Str("user_email", userEmail).Msg("Cancelling extraction")
	job.cancel()
	return true
}

func (r *Runner) IsRunning(userEmail string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.running[userEmail]
	return exists
}

// Running lists the keys with a run in progress, sorted
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.running))
	for key := range r.running {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Shutdown cancels every run and waits for them to record their final status or for ctx to end
func (r *Runner) Shutdown(ctx context.Context) error {
	r.baseCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

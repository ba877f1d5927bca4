package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// fakeProvider scripts provider responses per instruction and records every call
type fakeProvider struct {
	mu sync.Mutex

	observe   map[string][][]models.ActionCandidate // successive responses, last one repeats
	act       map[string][]*models.ActionResult
	actWith   []*models.ActionResult // successive responses, last one repeats
	extract   []extractResponse
	liveView  string
	sessionID string

	observeCalls []string
	actCalls     []string
	actWithCalls []models.ActionCandidate
	extractCalls int
	closed       bool
}

type extractResponse struct {
	data json.RawMessage
	err  error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		observe:   make(map[string][][]models.ActionCandidate),
		act:       make(map[string][]*models.ActionResult),
		sessionID: "session-1",
	}
}

func (p *fakeProvider) Act(ctx context.Context, instruction string) (*models.ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actCalls = append(p.actCalls, instruction)

	results := p.act[instruction]
	if len(results) == 0 {
		return &models.ActionResult{Success: true, Message: "ok"}, nil
	}
	result := results[0]
	if len(results) > 1 {
		p.act[instruction] = results[1:]
	}
	return result, nil
}

func (p *fakeProvider) ActWith(ctx context.Context, candidate models.ActionCandidate) (*models.ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actWithCalls = append(p.actWithCalls, candidate)

	if len(p.actWith) == 0 {
		return &models.ActionResult{Success: false, Message: "not found"}, nil
	}
	result := p.actWith[0]
	if len(p.actWith) > 1 {
		p.actWith = p.actWith[1:]
	}
	return result, nil
}

func (p *fakeProvider) Observe(ctx context.Context, instruction string) ([]models.ActionCandidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observeCalls = append(p.observeCalls, instruction)

	responses := p.observe[instruction]
	if len(responses) == 0 {
		return nil, nil
	}
	response := responses[0]
	if len(responses) > 1 {
		p.observe[instruction] = responses[1:]
	}
	return response, nil
}

func (p *fakeProvider) Extract(ctx context.Context, instruction string, schema models.Schema) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extractCalls++

	if len(p.extract) == 0 {
		return json.RawMessage(`{"orders":[]}`), nil
	}
	response := p.extract[0]
	if len(p.extract) > 1 {
		p.extract = p.extract[1:]
	}
	return response.data, response.err
}

func (p *fakeProvider) SessionID() string { return p.sessionID }

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProvider) countObserve(instruction string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, call := range p.observeCalls {
		if call == instruction {
			n++
		}
	}
	return n
}

func (p *fakeProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observeCalls) + len(p.actCalls) + len(p.actWithCalls) + p.extractCalls
}

// liveViewProvider adds LiveViewer to fakeProvider
type liveViewProvider struct {
	*fakeProvider
}

func (p liveViewProvider) LiveViewURL(ctx context.Context) (string, error) {
	return p.liveView, nil
}

type fakeFactory struct {
	provider interfaces.SessionProvider
	err      error
	opened   int
}

func (f *fakeFactory) Open(ctx context.Context, userEmail string) (interfaces.SessionProvider, error) {
	f.opened++
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

// fakeStatusStore is an in-memory StatusStorage recording every applied update
type fakeStatusStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.ExtractionJob
	history []models.StatusUpdate
	writes  int
	getErr  error
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{jobs: make(map[string]*models.ExtractionJob)}
}

func (s *fakeStatusStore) Get(ctx context.Context, userEmail string) (*models.ExtractionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	job, ok := s.jobs[userEmail]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStatusStore) Upsert(ctx context.Context, userEmail string, update models.StatusUpdate) error {
	_, err := s.CompareAndSwap(ctx, userEmail, nil, update)
	return err
}

func (s *fakeStatusStore) CompareAndSwap(ctx context.Context, userEmail string, guard models.StatusGuard, update models.StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.jobs[userEmail]
	var view *models.ExtractionJob
	if current != nil {
		copied := *current
		view = &copied
	}
	if guard != nil && !guard(view) {
		return false, nil
	}

	next := models.ExtractionJob{UserEmail: userEmail}
	if current != nil {
		next = *current
	}
	update.Apply(&next, time.Now())
	s.jobs[userEmail] = &next
	s.history = append(s.history, update)
	s.writes++
	return true, nil
}

func (s *fakeStatusStore) List(ctx context.Context, statuses ...models.JobStatus) ([]*models.ExtractionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*models.ExtractionJob
	for _, job := range s.jobs {
		if len(statuses) == 0 {
			copied := *job
			jobs = append(jobs, &copied)
			continue
		}
		for _, status := range statuses {
			if job.Status == status {
				copied := *job
				jobs = append(jobs, &copied)
			}
		}
	}
	return jobs, nil
}

func (s *fakeStatusStore) Delete(ctx context.Context, userEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, userEmail)
	return nil
}

func (s *fakeStatusStore) statuses() []models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.JobStatus
	for _, update := range s.history {
		if len(out) == 0 || out[len(out)-1] != update.Status {
			out = append(out, update.Status)
		}
	}
	return out
}

func (s *fakeStatusStore) hasStatus(status models.JobStatus) bool {
	for _, st := range s.statuses() {
		if st == status {
			return true
		}
	}
	return false
}

// fakeCache is an in-memory ActionCache
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*models.CachedAction
	getErr  error
	evicted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*models.CachedAction)}
}

func (c *fakeCache) Get(ctx context.Context, instruction string) (*models.CachedAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	entry, ok := c.entries[instruction]
	if !ok {
		return nil, interfaces.ErrActionNotCached
	}
	copied := *entry
	return &copied, nil
}

func (c *fakeCache) Put(ctx context.Context, instruction string, candidate models.ActionCandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[instruction] = &models.CachedAction{Instruction: instruction, Candidate: candidate}
	return nil
}

func (c *fakeCache) RecordFailure(ctx context.Context, instruction string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[instruction]
	if !ok {
		return 0, interfaces.ErrActionNotCached
	}
	entry.Failures++
	return entry.Failures, nil
}

func (c *fakeCache) RecordSuccess(ctx context.Context, instruction string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[instruction]
	if !ok {
		return interfaces.ErrActionNotCached
	}
	entry.Failures = 0
	return nil
}

func (c *fakeCache) Evict(ctx context.Context, instruction string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, instruction)
	c.evicted = append(c.evicted, instruction)
	return nil
}

// fakeSink is an in-memory write-once ResultSink
type fakeSink struct {
	mu     sync.Mutex
	stored map[string]*models.OrderSet
	err    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{stored: make(map[string]*models.OrderSet)}
}

func (s *fakeSink) Put(ctx context.Context, userEmail, runID string, orders *models.OrderSet) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	key := "orders/" + userEmail + "/" + runID + ".json"
	if _, ok := s.stored[key]; ok {
		return "", interfaces.ErrResultExists
	}
	s.stored[key] = orders
	return key, nil
}

func (s *fakeSink) Latest(ctx context.Context, userEmail string) (*models.StoredOrderSet, error) {
	return nil, errors.New("not implemented")
}

// recordingSleeper records requested delays without waiting
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

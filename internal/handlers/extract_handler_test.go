package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/storage/badger"
)

type fakeRunner struct {
	mu        sync.Mutex
	started   []string
	cancelled []string
	closed    bool
}

func (r *fakeRunner) Start(userEmail string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.started = append(r.started, userEmail)
	return true
}

func (r *fakeRunner) Cancel(userEmail string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, userEmail)
	return true
}

type handlerFixture struct {
	store   interfaces.StatusStorage
	results interfaces.ResultSink
	runner  *fakeRunner
	handler *ExtractHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	manager, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	f := &handlerFixture{
		store:   manager.StatusStorage(),
		results: manager.ResultSink(),
		runner:  &fakeRunner{},
	}
	f.handler = NewExtractHandler(f.store, f.results, f.runner, nil, arbor.NewLogger())
	return f
}

func (f *handlerFixture) seed(t *testing.T, userEmail string, update models.StatusUpdate) {
	t.Helper()
	require.NoError(t, f.store.Upsert(context.Background(), userEmail, update))
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func call(h http.HandlerFunc, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestStartHandler_Accepted(t *testing.T) {
	f := newHandlerFixture(t)

	rec := post(f.handler.StartHandler, `{"userEmail":" Jane@Example.com "}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ExtractAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "jane@example.com", resp.UserEmail)
	assert.Equal(t, []string{"jane@example.com"}, f.runner.started)

	job, err := f.store.Get(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStarting, job.Status)
	assert.Empty(t, job.RunID)
}

func TestStartHandler_BadRequests(t *testing.T) {
	f := newHandlerFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"userEmail":`},
		{"missing email", `{}`},
		{"not an email", `{"userEmail":"jane"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(f.handler.StartHandler, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, f.runner.started)

	rec := call(f.handler.StartHandler, http.MethodGet, "/extract")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartHandler_ConflictWhileInFlight(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "jane@example.com", models.StatusUpdate{Status: models.JobStatusExtracting, Message: "Extracting", RunID: "run_1"})

	rec := post(f.handler.StartHandler, `{"userEmail":"jane@example.com"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	var job models.ExtractionJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.JobStatusExtracting, job.Status)
	assert.Empty(t, f.runner.started)
}

func TestStartHandler_TerminalJobCanBeRetriggered(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "jane@example.com", models.StatusUpdate{
		Status: models.JobStatusCompleted, Message: "Done", RunID: "run_1", OrderCount: 12, ResultKey: "orders/jane@example.com/run_1.json",
	})

	rec := post(f.handler.StartHandler, `{"userEmail":"jane@example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	job, err := f.store.Get(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStarting, job.Status)
	assert.Empty(t, job.RunID)
	assert.Zero(t, job.OrderCount)
	assert.Empty(t, job.ResultKey)
}

func TestStartHandler_ShuttingDown(t *testing.T) {
	f := newHandlerFixture(t)
	f.runner.closed = true

	rec := post(f.handler.StartHandler, `{"userEmail":"jane@example.com"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, f.runner.started)

	job, err := f.store.Get(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Equal(t, "server shutting down", job.Message)

	// The key is not stuck: a later trigger is accepted once the runner takes work
	f.runner.closed = false
	rec = post(f.handler.StartHandler, `{"userEmail":"jane@example.com"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"jane@example.com"}, f.runner.started)
}

func TestStatusHandler(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "jane@example.com", models.StatusUpdate{
		Status: models.JobStatusAwaitingLogin, Message: "Please log in", SessionID: "target-1", LiveViewURL: "https://live/1", RunID: "run_1",
	})

	rec := call(f.handler.StatusHandler, http.MethodGet, "/extract/jane@example.com")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "awaiting_login", body["status"])
	assert.Equal(t, "Please log in", body["message"])
	assert.Equal(t, "target-1", body["sessionId"])
	assert.Equal(t, "https://live/1", body["liveViewUrl"])
	assert.NotEmpty(t, body["timestamp"])

	assert.Equal(t, http.StatusNotFound, call(f.handler.StatusHandler, http.MethodGet, "/extract/nobody@example.com").Code)
	assert.Equal(t, http.StatusBadRequest, call(f.handler.StatusHandler, http.MethodGet, "/extract/").Code)
	assert.Equal(t, http.StatusBadRequest, call(f.handler.StatusHandler, http.MethodGet, "/extract/not-an-email").Code)
}

type brokenStore struct {
	interfaces.StatusStorage
}

func (brokenStore) Get(ctx context.Context, userEmail string) (*models.ExtractionJob, error) {
	return nil, errors.New("disk on fire")
}

func TestStatusHandler_StorageFailure(t *testing.T) {
	h := NewExtractHandler(brokenStore{}, nil, &fakeRunner{}, nil, arbor.NewLogger())
	rec := call(h.StatusHandler, http.MethodGet, "/extract/jane@example.com")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCancelHandler(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "jane@example.com", models.StatusUpdate{Status: models.JobStatusAwaitingLogin, Message: "Please log in", RunID: "run_1"})

	rec := call(f.handler.CancelHandler, http.MethodDelete, "/extract/jane@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"jane@example.com"}, f.runner.cancelled)

	job, err := f.store.Get(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Equal(t, "cancelled", job.Message)

	// a second delete removes the finished record
	rec = call(f.handler.CancelHandler, http.MethodDelete, "/extract/jane@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deleted")
	assert.Len(t, f.runner.cancelled, 1)

	assert.Equal(t, http.StatusNotFound, call(f.handler.StatusHandler, http.MethodGet, "/extract/jane@example.com").Code)
	assert.Equal(t, http.StatusNotFound, call(f.handler.CancelHandler, http.MethodDelete, "/extract/jane@example.com").Code)
}

func TestOrdersHandler(t *testing.T) {
	f := newHandlerFixture(t)

	rec := call(f.handler.OrdersHandler, http.MethodGet, "/extract/jane@example.com/orders")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	orders := &models.OrderSet{Orders: []models.Order{
		{RestaurantName: "Joe's Pizza", Date: "Mar 5", Time: "9:15 PM", Total: 24.10},
	}}
	_, err := f.results.Put(context.Background(), "jane@example.com", "run_1", orders)
	require.NoError(t, err)

	rec = call(f.handler.OrdersHandler, http.MethodGet, "/extract/jane@example.com/orders")
	require.Equal(t, http.StatusOK, rec.Code)

	var stored models.StoredOrderSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, *orders, stored.Orders)
	assert.Equal(t, "orders/jane@example.com/run_1.json", stored.Key)
}

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/app"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/handlers"
	"github.com/ternarybob/quarry/internal/services/events"
	"github.com/ternarybob/quarry/internal/storage/badger"
)

type stubRunner struct {
	started []string
}

func (r *stubRunner) Start(userEmail string) bool {
	r.started = append(r.started, userEmail)
	return true
}

func (r *stubRunner) Cancel(userEmail string) bool { return true }

func newTestServer(t *testing.T) (*Server, *stubRunner) {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	runner := &stubRunner{}
	bus := events.NewService(logger)
	application := &app.App{
		Config:         common.NewDefaultConfig(),
		Logger:         logger,
		StorageManager: manager,
		EventService:   bus,
		APIHandler:     handlers.NewAPIHandler(logger),
		ExtractHandler: handlers.NewExtractHandler(manager.StatusStorage(), manager.ResultSink(), runner, bus, logger),
		WSHandler:      handlers.NewWebSocketHandler(bus, logger, nil),
	}
	return New(application), runner
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoutes_ExtractLifecycle(t *testing.T) {
	s, runner := newTestServer(t)

	rec := serve(s, http.MethodPost, "/extract", `{"userEmail":"jane@example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"jane@example.com"}, runner.started)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(s, http.MethodGet, "/extract/jane@example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "starting", job["status"])

	rec = serve(s, http.MethodPost, "/extract", `{"userEmail":"jane@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(s, http.MethodGet, "/extract/jane@example.com/orders", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(s, http.MethodDelete, "/extract/jane@example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cancelled")
}

func TestRoutes_MethodsAndUnknownPaths(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/extract", http.StatusMethodNotAllowed},
		{http.MethodPut, "/extract/jane@example.com", http.StatusMethodNotAllowed},
		{http.MethodPost, "/extract/jane@example.com/orders", http.StatusMethodNotAllowed},
		{http.MethodGet, "/extract/nobody@example.com", http.StatusNotFound},
		{http.MethodGet, "/nowhere", http.StatusNotFound},
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/version", http.StatusOK},
		{http.MethodOptions, "/extract", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(s, tt.method, tt.path, "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/events"
)

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello WSMessage
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)
	return conn
}

func statusEvent(userEmail string, status models.JobStatus) interfaces.Event {
	return interfaces.Event{
		Type:    interfaces.EventJobStatusChanged,
		Payload: models.ExtractionJob{UserEmail: userEmail, Status: status},
	}
}

func TestWebSocket_StreamsFilteredStatus(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(logger)
	handler := NewWebSocketHandler(bus, logger, &common.WebSocketConfig{})

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server, "?userEmail=jane@example.com")
	assert.Eventually(t, func() bool { return handler.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, bus.PublishSync(ctx, statusEvent("other@example.com", models.JobStatusExtracting)))
	require.NoError(t, bus.PublishSync(ctx, statusEvent("jane@example.com", models.JobStatusAwaitingLogin)))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "job_status", msg.Type)
	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "jane@example.com", payload["userEmail"])
	assert.Equal(t, "awaiting_login", payload["status"])
}

func TestWebSocket_ThrottlesProgressButNotTerminal(t *testing.T) {
	logger := arbor.NewLogger()
	handler := NewWebSocketHandler(nil, logger, &common.WebSocketConfig{ThrottleInterval: "1h"})

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server, "")
	assert.Eventually(t, func() bool { return handler.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	handler.BroadcastJobStatus(models.ExtractionJob{UserEmail: "jane@example.com", Status: models.JobStatusStarting})
	handler.BroadcastJobStatus(models.ExtractionJob{UserEmail: "jane@example.com", Status: models.JobStatusExtracting})
	handler.BroadcastJobStatus(models.ExtractionJob{UserEmail: "jane@example.com", Status: models.JobStatusCompleted})

	var statuses []string
	for i := 0; i < 2; i++ {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		statuses = append(statuses, msg.Payload.(map[string]interface{})["status"].(string))
	}
	assert.Equal(t, []string{"starting", "completed"}, statuses)
}

func TestWebSocket_DropsStaleStatus(t *testing.T) {
	logger := arbor.NewLogger()
	handler := NewWebSocketHandler(nil, logger, &common.WebSocketConfig{})

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server, "")
	assert.Eventually(t, func() bool { return handler.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler.BroadcastJobStatus(models.ExtractionJob{UserEmail: "jane@example.com", Status: models.JobStatusExtracting, Timestamp: base.Add(2 * time.Second)})
	// Delivered late, older than what the client already has
	handler.BroadcastJobStatus(models.ExtractionJob{UserEmail: "jane@example.com", Status: models.JobStatusStarting, Timestamp: base.Add(time.Second)})
	// Other users are tracked separately
	handler.BroadcastJobStatus(models.ExtractionJob{UserEmail: "joe@example.com", Status: models.JobStatusStarting, Timestamp: base})
	handler.BroadcastJobStatus(models.ExtractionJob{UserEmail: "jane@example.com", Status: models.JobStatusCompleted, Timestamp: base.Add(3 * time.Second)})

	var seen []string
	for i := 0; i < 3; i++ {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		payload := msg.Payload.(map[string]interface{})
		seen = append(seen, payload["userEmail"].(string)+":"+payload["status"].(string))
	}
	assert.Equal(t, []string{
		"jane@example.com:extracting",
		"joe@example.com:starting",
		"jane@example.com:completed",
	}, seen)
}

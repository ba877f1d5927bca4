package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every message pushed to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type wsClient struct {
	mu sync.Mutex
	// userEmail limits the stream to one job; empty receives every job
	userEmail string
}

// WebSocketHandler streams job status changes to connected clients
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*wsClient
	mu               sync.RWMutex
	eventService     interfaces.EventService
	throttleInterval time.Duration
	throttlers       map[string]*rate.Limiter
	lastSent         map[string]time.Time // newest status timestamp forwarded per user
	throttleMu       sync.Mutex
	serverInstanceID string // Unique ID generated on startup - clients use to detect server restart
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*wsClient),
		eventService:     eventService,
		throttlers:       make(map[string]*rate.Limiter),
		lastSent:         make(map[string]time.Time),
		serverInstanceID: uuid.New().String(),
	}

	// Nil config or empty interval = no throttling
	if config != nil && config.ThrottleInterval != "" {
		if interval, err := time.ParseDuration(config.ThrottleInterval); err == nil {
			h.throttleInterval = interval
		} else {
			logger.Warn().Err(err).Str("interval", config.ThrottleInterval).Msg("Failed to parse throttle interval - throttling disabled")
		}
	}

	if eventService != nil {
		h.SubscribeToJobEvents()
	}

	return h
}

// SubscribeToJobEvents forwards status changes from the event bus
func (h *WebSocketHandler) SubscribeToJobEvents() {
	h.eventService.Subscribe(interfaces.EventJobStatusChanged, func(ctx context.Context, event interfaces.Event) error {
		job, ok := event.Payload.(models.ExtractionJob)
		if !ok {
			h.logger.Warn().Msg("Invalid job status event payload type")
			return nil
		}
		h.BroadcastJobStatus(job)
		return nil
	})
}

// HandleWebSocket upgrades the connection. ?userEmail= restricts the stream to one job.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	filter := NormalizeEmail(r.URL.Query().Get("userEmail"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsClient{userEmail: filter}

	h.mu.Lock()
	h.clients[conn] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.send(conn, client, WSMessage{
		Type:    "hello",
		Payload: map[string]string{"serverInstanceId": h.serverInstanceID, "version": common.Version},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// BroadcastJobStatus sends the job record to every interested client.
// Progress updates are throttled per job, terminal states always go out.
func (h *WebSocketHandler) BroadcastJobStatus(job models.ExtractionJob) {
	if !h.admit(job) {
		return
	}

	msg := WSMessage{Type: "job_status", Payload: job}

	h.mu.RLock()
	targets := make(map[*websocket.Conn]*wsClient, len(h.clients))
	for conn, client := range h.clients {
		if client.userEmail == "" || client.userEmail == job.UserEmail {
			targets[conn] = client
		}
	}
	h.mu.RUnlock()

	for conn, client := range targets {
		h.send(conn, client, msg)
	}
}

// admit drops updates older than one already forwarded for the user, since
// events are delivered concurrently and can arrive out of order. Progress
// updates are then throttled; terminal ones always pass.
func (h *WebSocketHandler) admit(job models.ExtractionJob) bool {
	h.throttleMu.Lock()
	defer h.throttleMu.Unlock()

	if last, ok := h.lastSent[job.UserEmail]; ok && job.Timestamp.Before(last) {
		h.logger.Debug().
			Str("user_email", job.UserEmail).
			Str("status", string(job.Status)).
			Msg("Dropping stale job status")
		return false
	}

	if !job.Status.IsTerminal() && h.throttleInterval > 0 {
		limiter, ok := h.throttlers[job.UserEmail]
		if !ok {
			limiter = rate.NewLimiter(rate.Every(h.throttleInterval), 1)
			h.throttlers[job.UserEmail] = limiter
		}
		if !limiter.Allow() {
			return false
		}
	}

	h.lastSent[job.UserEmail] = job.Timestamp
	return true
}

func (h *WebSocketHandler) send(conn *websocket.Conn, client *wsClient, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send message to client")
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

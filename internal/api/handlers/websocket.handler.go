package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/platformbuilds/sentinelops/internal/metrics"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// IncidentHub fans newly created incidents out to connected WebSocket
// clients. The pipeline goroutine broadcasts while HTTP goroutines register
// and drop clients, so the client set is mutex-guarded.
type IncidentHub struct {
	upgrader websocket.Upgrader
	logger   logger.Logger

	mu      sync.Mutex
	clients map[string]*streamClient
}

// streamClient serializes writes to one connection. Gorilla connections
// allow a single concurrent writer, and both the heartbeat loop and
// BroadcastIncident write.
type streamClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *streamClient) writeJSON(v any, deadline time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(deadline))
	return c.conn.WriteJSON(v)
}

func NewIncidentHub(log logger.Logger) *IncidentHub {
	return &IncidentHub{
		upgrader: websocket.Upgrader{
			// TODO: check Origin against cors.allowed_origins once the
			// dashboard moves off localhost.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  log,
		clients: make(map[string]*streamClient),
	}
}

// HandleIncidentStream - WebSocket endpoint for live incident creation
// events. Heartbeats keep idle proxies from dropping the connection.
func (h *IncidentHub) HandleIncidentStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	clientID := generateClientID()
	client := &streamClient{conn: conn}
	h.addClient(clientID, client)
	defer h.removeClient(clientID)

	h.logger.Info("incident stream client connected", "client_id", clientID)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-heartbeat.C:
			err := client.writeJSON(map[string]any{
				"type": "heartbeat",
				"data": map[string]any{"ts": time.Now().UnixMilli()},
			}, 5*time.Second)
			if err != nil {
				h.logger.Debug("incident stream client gone", "client_id", clientID, "error", err)
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

// BroadcastIncident pushes a created incident to every connected client.
// Write failures drop the client; creation never blocks on slow consumers
// beyond the write deadline.
func (h *IncidentHub) BroadcastIncident(inc *models.Incident) {
	message := map[string]any{
		"type":      "incident_created",
		"data":      inc,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for clientID, client := range h.clients {
		if err := client.writeJSON(message, 10*time.Second); err != nil {
			h.logger.Warn("incident broadcast failed, dropping client", "client_id", clientID, "error", err)
			client.conn.Close()
			delete(h.clients, clientID)
			metrics.ActiveWebSocketConnections.Dec()
		}
	}
}

// ClientCount reports connected clients, for tests and the health surface.
func (h *IncidentHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *IncidentHub) addClient(id string, client *streamClient) {
	h.mu.Lock()
	h.clients[id] = client
	h.mu.Unlock()
	metrics.ActiveWebSocketConnections.Inc()
}

func (h *IncidentHub) removeClient(id string) {
	h.mu.Lock()
	_, present := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if present {
		metrics.ActiveWebSocketConnections.Dec()
	}
}

// generateClientID returns a random 16-byte hex id.
func generateClientID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

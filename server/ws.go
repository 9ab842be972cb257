package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hagyro/paper-md/models"
)

// WebSocketManager fans job status updates out to connected clients.
type WebSocketManager struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	logger     *logrus.Logger
	mu         sync.Mutex
}

// NewWebSocketManager creates a manager; call Start to begin serving.
func NewWebSocketManager(logger *logrus.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
	}
}

// Start runs the manager loop until ctx is canceled.
func (wsm *WebSocketManager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				wsm.closeAll()
				return
			case client := <-wsm.register:
				wsm.mu.Lock()
				wsm.clients[client] = true
				total := len(wsm.clients)
				wsm.mu.Unlock()
				wsm.logger.WithField("clients", total).Debug("WebSocket client connected")
			case client := <-wsm.unregister:
				wsm.mu.Lock()
				if _, ok := wsm.clients[client]; ok {
					delete(wsm.clients, client)
					client.Close()
				}
				total := len(wsm.clients)
				wsm.mu.Unlock()
				wsm.logger.WithField("clients", total).Debug("WebSocket client disconnected")
			case message := <-wsm.broadcast:
				wsm.mu.Lock()
				for client := range wsm.clients {
					if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
						wsm.logger.WithError(err).Debug("Dropping unresponsive WebSocket client")
						client.Close()
						delete(wsm.clients, client)
					}
				}
				wsm.mu.Unlock()
			}
		}
	}()
}

// BroadcastUpdate sends a job status snapshot to every connected client.
func (wsm *WebSocketManager) BroadcastUpdate(snap models.StatusSnapshot) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":     "job_update",
		"job_id":   snap.JobID,
		"state":    snap.State,
		"progress": snap.Progress,
		"error":    snap.Error,
	})
	if err != nil {
		wsm.logger.WithError(err).Error("Failed to marshal job update")
		return
	}

	select {
	case wsm.broadcast <- payload:
	default:
		wsm.logger.Debug("Broadcast buffer full, dropping update")
	}
}

// RegisterClient registers a new WebSocket client
func (wsm *WebSocketManager) RegisterClient(conn *websocket.Conn) {
	wsm.register <- conn
}

// UnregisterClient unregisters a WebSocket client
func (wsm *WebSocketManager) UnregisterClient(conn *websocket.Conn) {
	wsm.unregister <- conn
}

func (wsm *WebSocketManager) closeAll() {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()
	for client := range wsm.clients {
		client.Close()
	}
	wsm.clients = make(map[*websocket.Conn]bool)
}

package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"almcli/internal/infrastructure"
)

// Event types pushed to subscribers
const (
	TypeConnection         = "connection"
	TypeReportGenerated    = "report:generated"
	TypeParametersUpdated  = "parameters:updated"
	TypeMarketDataReloaded = "marketdata:reloaded"
)

// Message is the envelope of every event sent to clients
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	totalConnections int64
	messagesSent     int64
	droppedMessages  int64

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// HubStats is a snapshot of hub counters
type HubStats struct {
	ActiveClients    int   `json:"active_clients"`
	TotalConnections int64 `json:"total_connections"`
	MessagesSent     int64 `json:"messages_sent"`
	DroppedMessages  int64 `json:"dropped_messages"`
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in its own goroutine
func (h *Hub) Start() {
	go h.Run()
}

// Run processes registrations and broadcasts until Stop is called
func (h *Hub) Run() {
	defer close(h.done)
	h.logger.Info("websocket hub started")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalConnections++
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("client registered",
				slog.String("client_id", client.id),
				slog.Int("active_clients", count))

			if msg, err := encode(TypeConnection, map[string]interface{}{
				"client_id": client.id,
				"status":    "connected",
			}, client.traceID); err == nil {
				client.enqueue(msg)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("client unregistered",
				slog.String("client_id", client.id),
				slog.Int("active_clients", count))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
					h.messagesSent++
				default:
					// send buffer full
					delete(h.clients, client)
					close(client.send)
					h.droppedMessages++
					h.logger.Warn("dropping slow client", slog.String("client_id", client.id))
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("websocket hub stopped")
			return
		}
	}
}

// Stop closes every client and ends the hub loop
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Register adds a client. It returns false when the hub is stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Publish broadcasts an event to every connected client. The trace id of
// ctx travels with the message. Publishing never blocks on a stopped hub.
func (h *Hub) Publish(ctx context.Context, eventType string, data interface{}) {
	msg, err := encode(eventType, data, infrastructure.GetTraceID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode event",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- msg:
	case <-h.quit:
	default:
		h.mu.Lock()
		h.droppedMessages++
		h.mu.Unlock()
		h.logger.WarnContext(ctx, "broadcast queue full, event dropped", slog.String("type", eventType))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns the hub counters
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		ActiveClients:    len(h.clients),
		TotalConnections: h.totalConnections,
		MessagesSent:     h.messagesSent,
		DroppedMessages:  h.droppedMessages,
	}
}

func encode(eventType string, data interface{}, traceID string) ([]byte, error) {
	return json.Marshal(Message{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		TraceID:   traceID,
	})
}

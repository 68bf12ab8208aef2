package websocket

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"almcli/internal/config"
	"almcli/internal/infrastructure"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	heartbeat = `{"type":"heartbeat"}`
)

// Connection is the part of *websocket.Conn a Client uses
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	RemoteAddr() string
}

type connWrapper struct {
	*websocket.Conn
}

func (c connWrapper) RemoteAddr() string {
	if addr := c.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// WrapConn adapts a gorilla connection to Connection
func WrapConn(conn *websocket.Conn) Connection {
	return connWrapper{Conn: conn}
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub  *Hub
	conn Connection
	send chan []byte

	id          string
	traceID     string
	connectedAt time.Time
	pongWait    time.Duration
	pingPeriod  time.Duration
	logger      *slog.Logger
}

// NewClient creates a client with timings from cfg. A zero PongWait uses 60s
// and a PingPeriod that is zero or not shorter than PongWait uses 9/10 of it.
func NewClient(hub *Hub, conn Connection, cfg config.WebSocketConfig, traceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	pongWait := cfg.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	pingPeriod := cfg.PingPeriod
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = pongWait * 9 / 10
	}

	id := uuid.New().String()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		id:          id,
		traceID:     traceID,
		connectedAt: time.Now(),
		pongWait:    pongWait,
		pingPeriod:  pingPeriod,
		logger: logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
			slog.String("remote_addr", conn.RemoteAddr()),
		),
	}
}

// ID returns the client id
func (c *Client) ID() string {
	return c.id
}

func (c *Client) context() context.Context {
	return infrastructure.WithTraceID(context.Background(), c.traceID)
}

// enqueue is only called by the hub loop, which owns closing send.
func (c *Client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

// ReadPump reads until the connection fails. Clients only send heartbeats;
// anything else is ignored.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.logger.InfoContext(c.context(), "websocket client disconnected",
			slog.Duration("connection_duration", time.Since(c.connectedAt)))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.ErrorContext(c.context(), "unexpected websocket close",
					slog.String("error", err.Error()))
			}
			return
		}
		if string(bytes.TrimSpace(message)) == heartbeat {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		}
	}
}

// WritePump writes queued messages and pings the peer
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.WarnContext(c.context(), "failed to write websocket message",
					slog.String("error", err.Error()))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"almcli/internal/config"
	"almcli/internal/infrastructure"
)

// Handler upgrades HTTP requests and attaches the connection to a hub
type Handler struct {
	hub      *Hub
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a websocket endpoint. Requests without an Origin header
// are accepted; browser requests must come from one of allowedOrigins, where
// "*" allows any origin.
func NewHandler(hub *Hub, cfg config.WebSocketConfig, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	h := &Handler{
		hub:    hub,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "websocket")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed["*"] || allowed[origin] {
				return true
			}
			h.logger.WarnContext(r.Context(), "websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := NewClient(h.hub, WrapConn(conn), h.cfg, infrastructure.GetTraceID(r.Context()), h.logger)
	if !h.hub.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	h.logger.InfoContext(r.Context(), "websocket client connected", slog.String("client_id", client.ID()))
	go client.WritePump()
	go client.ReadPump()
}

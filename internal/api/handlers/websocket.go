// Package handlers provides HTTP request handlers for the vulnscan API.
// This file implements the websocket endpoints that stream scan events to
// live subscribers.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/vulnscan/internal/api/middleware"
	"github.com/anstrom/vulnscan/internal/logging"
	"github.com/anstrom/vulnscan/internal/notify"
)

const (
	// WebSocket defaults.
	defaultWriteWait      = 10 * time.Second // Time allowed to write a message to the peer
	defaultPongWait       = 60 * time.Second // Time to read next pong message from peer
	pingPeriodRatio       = 0.9              // Ratio of pongWait for pingPeriod
	defaultMaxMessageSize = 512              // Maximum message size allowed from peer
)

// Subscriptions is the part of the notification hub the websocket
// endpoints use.
type Subscriptions interface {
	Connect(topic string) (*notify.Subscriber, error)
	Disconnect(sub *notify.Subscriber)
	Reply(sub *notify.Subscriber, ev notify.Event)
}

// WebSocketConfig tunes connection keepalive.
type WebSocketConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	return c
}

func (c WebSocketConfig) pingPeriod() time.Duration {
	return time.Duration(float64(c.PongWait) * pingPeriodRatio)
}

// WebSocketHandler upgrades connections and attaches each one to a hub
// topic.
type WebSocketHandler struct {
	hub      Subscriptions
	config   WebSocketConfig
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// inboundMessage is the only client message the server understands.
type inboundMessage struct {
	Type string `json:"type"`
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(hub Subscriptions, config WebSocketConfig, logger *logging.Logger) *WebSocketHandler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &WebSocketHandler{
		hub:    hub,
		config: config.withDefaults(),
		logger: logger.WithComponent("api").WithFields("handler", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origins are restricted by the CORS settings, not here.
				return true
			},
		},
	}
}

// DashboardWebSocket handles GET /api/v1/scans/ws/dashboard.
func (h *WebSocketHandler) DashboardWebSocket(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, notify.DashboardTopic)
}

// ScanWebSocket handles GET /api/v1/scans/ws/{id}.
func (h *WebSocketHandler) ScanWebSocket(w http.ResponseWriter, r *http.Request) {
	id, err := extractStringFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	h.serve(w, r, notify.JobTopic(id))
}

// serve runs one connection until either side goes away.
func (h *WebSocketHandler) serve(w http.ResponseWriter, r *http.Request, topic string) {
	requestID := middleware.GetRequestID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}

	sub, err := h.hub.Connect(topic)
	if err != nil {
		h.logger.Warn("Rejecting WebSocket connection", "request_id", requestID, "topic", topic, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "service shutting down"),
			time.Now().Add(h.config.WriteWait))
		_ = conn.Close()
		return
	}

	log := h.logger.WithFields("request_id", requestID, "subscriber", sub.ID(), "topic", topic)
	log.Info("WebSocket connected", "remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, sub, log)
	}()

	h.readPump(conn, sub, log)

	// Closing the subscriber ends the write pump.
	h.hub.Disconnect(sub)
	<-done
	log.Info("WebSocket disconnected")
}

// readPump handles client messages until the connection fails.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, sub *notify.Subscriber, log *logging.Logger) {
	conn.SetReadLimit(h.config.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(h.config.PongWait)); err != nil {
		log.Error("Failed to set read deadline", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("WebSocket unexpected close", "error", err)
			}
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(h.config.PongWait)); err != nil {
			return
		}

		var msg inboundMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Type == "ping" {
			h.hub.Reply(sub, notify.Pong())
		}
	}
}

// writePump writes queued events and keepalive pings. It closes the
// connection on exit, which also unblocks readPump.
func (h *WebSocketHandler) writePump(conn *websocket.Conn, sub *notify.Subscriber, log *logging.Logger) {
	ticker := time.NewTicker(h.config.pingPeriod())
	defer func() {
		ticker.Stop()
		if err := conn.Close(); err != nil {
			log.Debug("Error closing WebSocket connection", "error", err)
		}
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if err := conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait)); err != nil {
				return
			}
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("Write failed, closing connection", "error", err)
				h.hub.Disconnect(sub)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("Ping failed, closing connection", "error", err)
				h.hub.Disconnect(sub)
				return
			}
		}
	}
}

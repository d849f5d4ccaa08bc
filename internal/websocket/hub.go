// Package websocket pushes relay events to browser clients over WebSocket.
package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/proxy_history/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Message is the frame sent to clients.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Hub mirrors every relay feed to connected WebSocket clients.
type Hub struct {
	broker   *relay.Broker
	upgrader websocket.Upgrader
	clients  atomic.Int64
	now      func() time.Time
}

// NewHub creates a hub over broker. checkOrigin may be nil to allow any
// origin, which suits a loopback-bound daemon.
func NewHub(broker *relay.Broker, checkOrigin func(*http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		broker:   broker,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		now:      time.Now,
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int { return int(h.clients.Load()) }

// ServeWS upgrades the request and streams events until either side closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	id, events := h.broker.Subscribe()
	h.clients.Add(1)
	slog.Info("websocket client connected", "remote", r.RemoteAddr)

	closed := make(chan struct{})
	go h.readPump(conn, closed)
	h.writePump(conn, events, closed)

	h.broker.Unsubscribe(id)
	h.clients.Add(-1)
	slog.Info("websocket client disconnected", "remote", r.RemoteAddr)
}

// readPump discards client frames and notices disconnects.
func (h *Hub) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, events <-chan relay.Event, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-closed:
			return
		case evt, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			data, err := json.Marshal(h.message(evt))
			if err != nil {
				slog.Error("websocket marshal failed", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) message(evt relay.Event) Message {
	data := json.RawMessage(evt.Payload)
	if !json.Valid(data) {
		data, _ = json.Marshal(evt.Payload)
	}
	return Message{
		ID:        evt.ID,
		Type:      evt.Feed,
		Data:      data,
		Timestamp: h.now().Unix(),
	}
}

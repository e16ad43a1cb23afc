package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to the peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from the peer.
	maxMessageSize = 512
)

// wsMessage is a message sent over the WebSocket.
type wsMessage struct {
	Type      string `json:"type"` // snapshot, recording_started, recording_stopped
	Recording bool   `json:"recording"`
	SessionID string `json:"session_id,omitempty"`
	File      string `json:"file,omitempty"`
}

// wsHub tracks active WebSocket connections and fans events out to
// them.
type wsHub struct {
	provider StatusProvider

	connsMu sync.RWMutex
	conns   map[*wsConn]struct{}
}

func newWSHub(provider StatusProvider) *wsHub {
	return &wsHub{
		provider: provider,
		conns:    make(map[*wsConn]struct{}),
	}
}

// wsConn is a single WebSocket subscriber.
type wsConn struct {
	hub    *wsHub
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// handleWS upgrades the request and streams a snapshot followed by
// recording events.
func (h *wsHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("WebSocket accept failed", "error", err)
		return
	}

	conn.SetReadLimit(maxMessageSize)

	// Background context: the connection lives beyond the HTTP request.
	ctx, cancel := context.WithCancel(context.Background())
	wsc := &wsConn{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 16),
		ctx:    ctx,
		cancel: cancel,
	}

	h.connsMu.Lock()
	h.conns[wsc] = struct{}{}
	h.connsMu.Unlock()

	if err := wsc.sendSnapshot(); err != nil {
		slog.Debug("failed to send snapshot", "error", err)
		wsc.close()
		return
	}

	go wsc.writePump()
	go wsc.readPump()
}

// broadcast sends a message to all subscribers, dropping it for any
// whose send buffer is full.
func (h *wsHub) broadcast(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal WebSocket message", "error", err)
		return
	}

	h.connsMu.RLock()
	defer h.connsMu.RUnlock()

	for wsc := range h.conns {
		select {
		case wsc.send <- data:
		default:
			slog.Warn("WebSocket send buffer full, dropping message")
		}
	}
}

// sendSnapshot writes the current state directly, before the pumps
// start.
func (wsc *wsConn) sendSnapshot() error {
	recording, file := wsc.hub.provider.Status()
	data, err := json.Marshal(wsMessage{
		Type:      "snapshot",
		Recording: recording,
		File:      file,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
	defer cancel()
	return wsc.conn.Write(ctx, websocket.MessageText, data)
}

// writePump pumps messages from the send channel to the connection.
func (wsc *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsc.close()
	}()

	for {
		select {
		case <-wsc.ctx.Done():
			return

		case message, ok := <-wsc.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
			err := wsc.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
			err := wsc.conn.Ping(ctx)
			cancel()
			if err != nil {
				slog.Debug("WebSocket ping failed", "error", err)
				return
			}
		}
	}
}

// readPump drains the connection. Subscribers send nothing; this only
// detects closure.
func (wsc *wsConn) readPump() {
	defer wsc.close()

	for {
		if _, _, err := wsc.conn.Read(wsc.ctx); err != nil {
			return
		}
	}
}

func (wsc *wsConn) close() {
	wsc.cancel()

	wsc.hub.connsMu.Lock()
	delete(wsc.hub.conns, wsc)
	wsc.hub.connsMu.Unlock()

	wsc.conn.Close(websocket.StatusNormalClosure, "")
}

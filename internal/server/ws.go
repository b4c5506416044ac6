package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/targetlock/internal/app"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// StatusSource yields pipeline status snapshots.
type StatusSource interface {
	Status() app.Status
}

// StatusHandler serves the pipeline status: a JSON snapshot for plain GET
// requests, or a stream of snapshots for WebSocket clients. A snapshot is
// broadcast whenever it changes, at most once per interval.
type StatusHandler struct {
	source   StatusSource
	interval time.Duration
	logger   *slog.Logger

	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	stop    chan struct{}
	once    sync.Once
}

// NewStatusHandler creates a new StatusHandler and starts its broadcast loop.
func NewStatusHandler(source StatusSource, interval time.Duration, l *slog.Logger) *StatusHandler {
	h := &StatusHandler{
		source:   source,
		interval: interval,
		logger:   l,
		clients:  make(map[*websocket.Conn]bool),
		stop:     make(chan struct{}),
	}
	go h.broadcast()
	return h
}

// ServeHTTP handles status requests and WebSocket upgrades.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		writeJSON(w, http.StatusOK, h.source.Status())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if msg, err := json.Marshal(h.source.Status()); err == nil {
		conn.WriteMessage(websocket.TextMessage, msg)
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected WebSocket clients.
func (h *StatusHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the broadcast loop and disconnects all clients.
func (h *StatusHandler) Close() {
	h.once.Do(func() {
		close(h.stop)
		h.mu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		h.mu.Unlock()
	})
}

// broadcast sends changed status snapshots to all connected clients.
func (h *StatusHandler) broadcast() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		if h.Clients() == 0 {
			continue
		}

		msg, err := json.Marshal(h.source.Status())
		if err != nil || bytes.Equal(msg, last) {
			continue
		}
		last = msg

		// Writes are serialized under the lock; gorilla allows one writer per conn.
		h.mu.Lock()
		for conn := range h.clients {
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("status write failed", "error", err)
			}
		}
		h.mu.Unlock()
	}
}

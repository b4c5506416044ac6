package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/targetlock/internal/app"
)

// OutputSource yields the pipeline's published frames.
type OutputSource interface {
	Outputs() <-chan app.Output
}

// subscriber is one connected output client.
type subscriber struct {
	ch   chan app.Output
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// OutputHandler relays published frames to WebSocket clients. Each output
// is sent as a JSON text message followed by a binary message holding the
// frame bytes.
//
// With no clients connected, outputs are read and discarded. With clients,
// outputs are read only as fast as the slowest client takes them, so the
// pipeline's bounded output queue applies.
type OutputHandler struct {
	source OutputSource
	logger *slog.Logger

	subs map[*subscriber]bool
	mu   sync.RWMutex
	stop chan struct{}
	once sync.Once
}

// NewOutputHandler creates an OutputHandler and starts its relay loop.
func NewOutputHandler(source OutputSource, l *slog.Logger) *OutputHandler {
	h := &OutputHandler{
		source: source,
		logger: l,
		subs:   make(map[*subscriber]bool),
		stop:   make(chan struct{}),
	}
	go h.relay()
	return h
}

// ServeHTTP upgrades the request and streams outputs until the client leaves.
func (h *OutputHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "WebSocket upgrade required", http.StatusBadRequest)
		return
	}

	// Registered before the handshake completes so no output published after
	// the client's dial returns is missed.
	sub := &subscriber{ch: make(chan app.Output), done: make(chan struct{})}
	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()
	defer func() {
		sub.close()
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	go func() {
		defer sub.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-sub.done:
			return
		case <-h.stop:
			return
		case out := <-sub.ch:
			if err := writeOutput(conn, out); err != nil {
				h.logger.Debug("output client gone", "error", err)
				return
			}
		}
	}
}

func writeOutput(conn *websocket.Conn, out app.Output) error {
	hdr, err := json.Marshal(out)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, hdr); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, out.Frame.Data)
}

// Clients returns the number of connected output clients.
func (h *OutputHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close stops the relay loop and disconnects all clients.
func (h *OutputHandler) Close() {
	h.once.Do(func() {
		close(h.stop)
	})
}

func (h *OutputHandler) relay() {
	outputs := h.source.Outputs()
	for {
		select {
		case <-h.stop:
			return
		case out := <-outputs:
			h.deliver(out)
		}
	}
}

// deliver hands out to every client, waiting on each until it takes the
// output or disconnects.
func (h *OutputHandler) deliver(out app.Output) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- out:
		case <-s.done:
		case <-h.stop:
			return
		}
	}
}

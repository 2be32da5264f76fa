// Package stream serves WebSocket clients periodic JSON snapshots of the
// daemon's caches. Every connection runs its own loop at a client-chosen
// interval; emits are best-effort and never block the sensor or control
// paths.
package stream

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/openpdu/powerd/internal/log"
	"github.com/openpdu/powerd/internal/metrics"
)

// Server policy for client-chosen intervals.
const (
	MinInterval     = 500 * time.Millisecond
	MaxInterval     = 10 * time.Second
	DefaultInterval = time.Second

	writeDeadline = 2 * time.Second
)

// Snapshot produces one frame payload. It must be a non-blocking read of
// a cache.
type Snapshot func() (any, error)

// Hub upgrades connections and tracks them for orderly shutdown.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// NewHub returns a hub. Origin checking is left open: the daemon serves
// a single-board device UI from changing addresses.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.WithComponent("stream"),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// Interval parses the client's interval query parameter (seconds, may be
// fractional) and clamps it to server policy.
func Interval(r *http.Request) time.Duration {
	raw := r.URL.Query().Get("interval")
	if raw == "" {
		return DefaultInterval
	}
	sec, err := strconv.ParseFloat(raw, 64)
	if err != nil || sec <= 0 {
		return DefaultInterval
	}
	d := time.Duration(sec * float64(time.Second))
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// Reject upgrades the connection only to send a single error frame and a
// policy-violation close. Used when authentication fails on connect.
func (h *Hub) Reject(w http.ResponseWriter, r *http.Request, reason string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(reason))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}

// Serve upgrades the connection and streams snapshots until the peer goes
// away or the hub shuts down. Blocks for the connection's lifetime.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, endpoint string, snap Snapshot) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("upgrade failed")
		return
	}

	if !h.register(conn) {
		_ = conn.Close()
		return
	}
	defer h.unregister(conn)

	metrics.StreamClients.WithLabelValues(endpoint).Inc()
	defer metrics.StreamClients.WithLabelValues(endpoint).Dec()

	interval := Interval(r)
	h.logger.Debug().
		Str("endpoint", endpoint).
		Dur("interval", interval).
		Str("remote", r.RemoteAddr).
		Msg("stream client connected")

	// reader detects peer close; frames from the client are discarded
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// first frame immediately, then on the ticker
	if !h.emit(conn, endpoint, snap) {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !h.emit(conn, endpoint, snap) {
				return
			}
		}
	}
}

// emit sends one frame. A failed snapshot skips the frame; a failed send
// ends the connection.
func (h *Hub) emit(conn *websocket.Conn, endpoint string, snap Snapshot) bool {
	payload, err := snap()
	if err != nil {
		h.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("snapshot failed, frame skipped")
		return true
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(payload); err != nil {
		return false
	}
	return true
}

func (h *Hub) register(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// Shutdown closes every connection with a normal closure frame.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down")
	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(writeDeadline))
		_ = c.WriteMessage(websocket.CloseMessage, msg)
		_ = c.Close()
	}
}

package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voicefront/voicefront/internal/session"
)

const (
	// clientBuffer is the number of notifications queued per subscriber
	// before new ones are dropped for it.
	clientBuffer = 64

	writeTimeout = 5 * time.Second
)

// Hub fans out session notifications to websocket subscribers of
// GET /v1/events. Publish never blocks; a subscriber whose queue is full
// misses notifications until it catches up.
type Hub struct {
	state func() session.State

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	ch       chan session.Notification
	dropOnce sync.Once
}

// NewHub returns a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{clients: make(map[*subscriber]struct{})}
}

// Publish queues n for every subscriber.
func (h *Hub) Publish(n session.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.ch <- n:
		default:
			c.dropOnce.Do(func() {
				slog.Warn("event feed subscriber is slow, dropping notifications", "kind", n.Kind)
			})
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.ch)
		delete(h.clients, c)
	}
}

func (h *Hub) subscribe() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &subscriber{ch: make(chan session.Notification, clientBuffer)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unsubscribe(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.ch)
	}
}

// ServeHTTP upgrades the request to a websocket and streams notifications as
// JSON text messages. The first message reports the current state.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, ok := h.subscribe()
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(c)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("event feed: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// The feed is one-way; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	slog.Debug("event feed subscriber connected", "remote", r.RemoteAddr)

	if h.state != nil {
		initial := session.Notification{Kind: session.NotifyState, Time: time.Now(), State: h.state()}
		if err := write(ctx, conn, initial); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-c.ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := write(ctx, conn, n); err != nil {
				slog.Debug("event feed subscriber gone", "err", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, n session.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, n)
}

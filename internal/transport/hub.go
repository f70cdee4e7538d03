package transport

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/talonhq/linkpilot/internal/actions"
	"github.com/talonhq/linkpilot/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dashboard fronting this service runs on a different origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub maps each user to their single live control connection. A
// reconnecting user displaces the previous connection: last one wins, no
// multiplexed viewers.
type Hub struct {
	registry *session.Registry
	executor *actions.Executor
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewHub creates a hub bound to the session registry.
func NewHub(registry *session.Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry: registry,
		executor: actions.NewExecutor(logger),
		logger:   logger,
		conns:    make(map[string]*Conn),
	}
}

// HandleControl upgrades the request to a websocket control channel. The
// user identity comes from the userId query parameter.
func (h *Hub) HandleControl(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId query parameter required", http.StatusBadRequest)
		return
	}
	h.ServeControl(w, r, userID)
}

// ServeControl runs the control channel for an already-resolved user.
func (h *Hub) ServeControl(w http.ResponseWriter, r *http.Request, userID string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("transport: upgrade failed", "user", userID, "error", err)
		return
	}

	c := newConn(h, userID, ws)
	h.register(c)
	c.run()
	h.unregister(c)
}

// ConnectedUsers returns users with a live control connection.
func (h *Hub) ConnectedUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	users := make([]string, 0, len(h.conns))
	for u := range h.conns {
		users = append(users, u)
	}
	return users
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	prev := h.conns[c.userID]
	h.conns[c.userID] = c
	h.mu.Unlock()

	if prev != nil {
		h.logger.Info("transport: displacing previous connection",
			"user", c.userID, "old_conn", prev.id, "new_conn", c.id)
		prev.shutdown()
	}
}

// unregister removes the connection from the map only if it is still the
// current one; a displaced connection must not evict its replacement.
// The underlying session is left alone: its lifetime is governed by the
// registry's inactivity sweep, not by transport disconnects.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if h.conns[c.userID] == c {
		delete(h.conns, c.userID)
	}
	h.mu.Unlock()
}

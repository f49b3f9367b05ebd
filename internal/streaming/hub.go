package streaming

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClientNotFound is returned when a client ID is not connected.
var ErrClientNotFound = errors.New("client not found")

// Client roles.
const (
	RoleProducer = "producer"
	RoleConsumer = "consumer"
)

// ClientInfo describes one websocket connection.
type ClientInfo struct {
	ID          string    `json:"id" doc:"Client identifier"`
	Role        string    `json:"role" enum:"producer,consumer" doc:"Connection role"`
	Layout      string    `json:"layout" example:"bgra8" doc:"Frame layout sent or expected"`
	RemoteAddr  string    `json:"remote_addr" doc:"Peer address"`
	ConnectedAt time.Time `json:"connected_at" doc:"When the connection was accepted"`
}

type client struct {
	info ClientInfo
	conn *websocket.Conn
}

// Hub tracks live websocket connections so they can be listed and closed
// together.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger,
	}
}

// Add registers a connection, closing any previous connection with the same ID.
func (h *Hub) Add(info ClientInfo, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.clients[info.ID]; ok {
		h.logger.Info("Replacing existing client", "client_id", info.ID, "role", info.Role)
		_ = existing.conn.Close()
	}
	h.clients[info.ID] = &client{info: info, conn: conn}
}

// Remove forgets the connection if it is still the registered one.
func (h *Hub) Remove(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok && c.conn == conn {
		delete(h.clients, id)
	}
}

// Disconnect closes the connection with the given ID.
func (h *Hub) Disconnect(id string) error {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return ErrClientNotFound
	}
	return c.conn.Close()
}

// List returns the connected clients ordered by connection time.
func (h *Hub) List() []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c.info)
	}
	slices.SortFunc(out, func(a, b ClientInfo) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return out
}

// Stop closes every connection.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		_ = c.conn.Close()
		delete(h.clients, id)
	}
	h.logger.Info("Hub stopped")
}

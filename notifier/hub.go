package notifier

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

// Envelope is the wire format pushed over the websocket.
type Envelope struct {
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
	SentAt  time.Time              `json:"sent_at"`
}

// hubConn pairs a connection with its write lock. The underlying websocket
// allows at most one concurrent writer, and Send is reached from every
// dispatch worker, so writes must be serialized per connection.
type hubConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (hc *hubConn) writeJSON(v interface{}) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.conn.WriteJSON(v)
}

// Hub tracks live websocket connections per user. A user may hold several
// connections (multiple tabs); each gets every event.
type Hub struct {
	mu     sync.RWMutex
	conns  map[uint]map[*websocket.Conn]*hubConn
	logger *logrus.Entry
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		conns:  make(map[uint]map[*websocket.Conn]*hubConn),
		logger: logger.WithField("component", "ws_hub"),
	}
}

// Register adds a connection for the user.
func (h *Hub) Register(userID uint, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]*hubConn)
	}
	h.conns[userID][c] = &hubConn{conn: c}
	h.logger.WithField("user_id", userID).Debug("websocket connected")
}

// Unregister removes a connection for the user.
func (h *Hub) Unregister(userID uint, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
	h.logger.WithField("user_id", userID).Debug("websocket disconnected")
}

// Send pushes the envelope to every live connection of the user. Write
// failures drop the connection; the client is expected to reconnect.
func (h *Hub) Send(userID uint, env Envelope) {
	h.mu.RLock()
	targets := make([]*hubConn, 0, len(h.conns[userID]))
	for _, hc := range h.conns[userID] {
		targets = append(targets, hc)
	}
	h.mu.RUnlock()

	for _, hc := range targets {
		if err := hc.writeJSON(env); err != nil {
			h.logger.WithError(err).WithField("user_id", userID).
				Warn("websocket write failed, dropping connection")
			h.Unregister(userID, hc.conn)
			hc.conn.Close()
		}
	}
}

// Connections reports the number of live connections for the user.
func (h *Hub) Connections(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Package socket keeps live WebSocket connections grouped into rooms and
// broadcasts alert payloads to them.
package socket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"proximity-service/internal/logging"
)

// MaxConnectionsPerRoom caps how many sockets one room holds.
const MaxConnectionsPerRoom = 10

const writeWait = 5 * time.Second

// Room returns the room name for a user.
func Room(userID int) string {
	return fmt.Sprintf("user-%d", userID)
}

// client serializes writes to one connection; gorilla allows a single
// concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// Hub manages WebSocket connections by room. The mutex guards the room map
// only and is never held during a network write.
type Hub struct {
	rooms  map[string]map[*websocket.Conn]*client
	mutex  sync.Mutex
	logger *logging.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*websocket.Conn]*client),
		logger: logger,
	}
}

// Join adds conn to room. It reports false when the room is full.
func (h *Hub) Join(room string, conn *websocket.Conn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, exists := h.rooms[room]; !exists {
		h.rooms[room] = make(map[*websocket.Conn]*client)
	}
	if len(h.rooms[room]) >= MaxConnectionsPerRoom {
		h.logger.Warnf("Max connections reached for room %s", room)
		return false
	}
	h.rooms[room][conn] = &client{conn: conn}
	h.logger.Infof("Added WebSocket connection to %s (total: %d)", room, len(h.rooms[room]))
	return true
}

// Leave removes conn from room.
func (h *Hub) Leave(room string, conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if conns, exists := h.rooms[room]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
		h.logger.Infof("Removed WebSocket connection from %s (remaining: %d)", room, len(conns))
	}
}

// Broadcast sends v as JSON to every connection in room and returns how many
// received it. Connections that fail to write are dropped.
func (h *Hub) Broadcast(room string, v any) (int, error) {
	message, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode socket message: %w", err)
	}

	h.mutex.Lock()
	clients := make([]*client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		clients = append(clients, c)
	}
	h.mutex.Unlock()

	var (
		result *multierror.Error
		failed []*client
	)
	for _, c := range clients {
		if err := c.write(message); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", c.conn.RemoteAddr(), err))
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		h.drop(room, failed)
	}
	return len(clients) - len(failed), result.ErrorOrNil()
}

// drop removes clients whose writes failed and closes their connections.
func (h *Hub) drop(room string, failed []*client) {
	h.mutex.Lock()
	conns := h.rooms[room]
	for _, c := range failed {
		if conns[c.conn] == c {
			delete(conns, c.conn)
		}
	}
	if conns != nil && len(conns) == 0 {
		delete(h.rooms, room)
	}
	h.mutex.Unlock()

	for _, c := range failed {
		_ = c.conn.Close()
	}
	h.logger.Warnf("Dropped %d dead WebSocket connections from %s", len(failed), room)
}

// Connections returns the number of open connections across all rooms.
func (h *Hub) Connections() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	n := 0
	for _, conns := range h.rooms {
		n += len(conns)
	}
	return n
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"proximity-service/internal/socket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS upgrades the caller to a socket in their alert room. Browsers
// cannot set headers on the handshake, so user_id is also accepted as a
// query parameter.
func (h *Handler) ServeWS(c *gin.Context) {
	if h.deps.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live alerts are disabled"})
		return
	}
	if raw := c.Query("user_id"); raw != "" {
		if id, err := strconv.Atoi(raw); err == nil && id > 0 {
			c.Set(userIDKey, id)
		}
	}
	userID, ok := callerID(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed for user %d: %v", userID, err)
		return
	}
	room := socket.Room(userID)
	if !h.deps.Hub.Join(room, conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"))
		_ = conn.Close()
		return
	}
	defer func() {
		h.deps.Hub.Leave(room, conn)
		_ = conn.Close()
	}()

	// Clients only listen; reading drives ping/close handling.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warnf("WebSocket for user %d closed: %v", userID, err)
			}
			return
		}
	}
}

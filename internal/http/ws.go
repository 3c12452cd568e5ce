package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// taskSocket upgrades an authenticated request and streams task events until
// the client goes away.
func (h *Handler) taskSocket(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}
	actor, err := h.authenticate(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debugf("websocket upgrade: %v", err)
		return
	}

	session, err := h.registry.Open(actor, conn)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}
	session.Serve()
}

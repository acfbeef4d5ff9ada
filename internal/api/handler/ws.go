package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/registry"
)

// Close codes sent before the socket is dropped.
const (
	CloseRoomNotRegistered   = 4404
	closeReasonNotRegistered = "room not registered"
)

// ServeWebSocket upgrades the request and attaches the connection to the
// room's session. Rooms missing from the registry are refused after the
// upgrade so browsers can read the close code.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	roomID := c.Param("room")
	l := logger(c).With().Str(log.FieldRoomID, roomID).Logger()

	admin := false
	if token := c.Query("token"); token != "" {
		if _, err := ParseAdminToken(h.Admin.JWTSecret, token); err != nil {
			l.Warn().Err(err).Msg("ignoring invalid admin token")
		} else {
			admin = true
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if err := registry.ValidateID(roomID); err != nil {
		closeWith(conn, CloseRoomNotRegistered, closeReasonNotRegistered)
		return
	}

	client := chathub.NewWebSocketClient(conn, roomID, admin, h.WebSocket, h.SendBuffer)
	session, err := h.Hub.Join(c.Request.Context(), roomID, client)
	switch {
	case errors.Is(err, chathub.ErrRoomNotRegistered):
		l.Info().Msg("refusing connection to unregistered room")
		closeWith(conn, CloseRoomNotRegistered, closeReasonNotRegistered)
		return
	case err != nil:
		l.Error().Err(err).Msg("failed to join room")
		closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	client.Session = session
	client.Run()
	l.Debug().Str(log.FieldConnID, client.ConnID).Bool("admin", admin).Msg("websocket connected")
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}

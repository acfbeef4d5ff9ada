package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/registry"
)

const ctxAdminSubject = "admin_subject"

// RequireAdmin accepts requests carrying "Authorization: Bearer <admin token>".
func (h *Handler) RequireAdmin(c *gin.Context) {
	raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || raw == "" {
		h.fail(c, http.StatusUnauthorized, "error", "invalid credentials")
		return
	}
	sub, err := ParseAdminToken(h.Admin.JWTSecret, raw)
	if err != nil {
		logger(c).Warn().Err(err).Msg("rejected admin token")
		h.fail(c, http.StatusUnauthorized, "error", "invalid credentials")
		return
	}
	c.Set(ctxAdminSubject, sub)
	c.Next()
}

// RoomMessages returns the room's messages as its session holds them.
func (h *Handler) RoomMessages(c *gin.Context) {
	roomID, ok := h.adminRoom(c)
	if !ok {
		return
	}
	msgs, err := h.Hub.Messages(c.Request.Context(), roomID)
	if err != nil {
		h.sessionError(c, roomID, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": msgs})
}

type purgeUserRequest struct {
	User string `json:"user" binding:"required"`
}

// PurgeUser deletes every message of a user through the room's session, so
// connected clients are resynced and storage never diverges from memory.
func (h *Handler) PurgeUser(c *gin.Context) {
	roomID, ok := h.adminRoom(c)
	if !ok {
		return
	}
	var req purgeUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "error", "invalid request")
		return
	}

	n, err := h.Hub.DeleteUser(c.Request.Context(), roomID, req.User)
	if err != nil {
		h.sessionError(c, roomID, err)
		return
	}

	logger(c).Info().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldUser, req.User).
		Str("admin", c.GetString(ctxAdminSubject)).
		Int("deleted", n).
		Msg("user messages purged")
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": n})
}

func (h *Handler) adminRoom(c *gin.Context) (string, bool) {
	roomID := c.Param("room")
	if err := registry.ValidateID(roomID); err != nil {
		h.fail(c, http.StatusBadRequest, "error", "invalid room id")
		return "", false
	}
	return roomID, true
}

func (h *Handler) sessionError(c *gin.Context, roomID string, err error) {
	if errors.Is(err, chathub.ErrRoomNotRegistered) {
		h.fail(c, http.StatusNotFound, "error", "room not registered")
		return
	}
	logger(c).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("room session request failed")
	h.fail(c, http.StatusInternalServerError, "error", "internal error")
}

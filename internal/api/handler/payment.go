package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/registry"
	"roomrelay/backend/internal/storage"
	"roomrelay/backend/internal/telegram"
)

type verifyPaymentRequest struct {
	Room   string `json:"room" binding:"required"`
	TxHash string `json:"txHash" binding:"required"`
	Wallet string `json:"wallet" binding:"required"`
}

// VerifyPayment registers a paid room once its payment transaction checks
// out on chain. Each transaction can unlock only one room.
func (h *Handler) VerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "message", "invalid request")
		return
	}
	if err := registry.ValidateID(req.Room); err != nil {
		h.fail(c, http.StatusBadRequest, "message", "invalid room id")
		return
	}

	ctx := c.Request.Context()
	l := logger(c).With().Str(log.FieldRoomID, req.Room).Str("tx_hash", req.TxHash).Logger()

	res := h.Oracle.Verify(ctx, req.TxHash, req.Wallet)
	if !res.OK {
		l.Info().Str("reason", res.Reason).Msg("payment rejected")
		h.fail(c, http.StatusBadRequest, "message", res.Reason)
		return
	}

	claim := &models.PaymentClaim{TxHash: req.TxHash, RoomID: req.Room, Wallet: req.Wallet}
	if err := h.Claims.ClaimPayment(ctx, claim); err != nil {
		if errors.Is(err, storage.ErrPaymentAlreadyClaimed) {
			l.Warn().Msg("payment already claimed by another room")
			h.fail(c, http.StatusBadRequest, "message", "transaction already used")
			return
		}
		l.Error().Err(err).Msg("failed to record payment claim")
		h.fail(c, http.StatusInternalServerError, "message", "internal error")
		return
	}

	if err := h.Rooms.Add(ctx, req.Room); err != nil {
		l.Error().Err(err).Msg("failed to register paid room")
		h.fail(c, http.StatusInternalServerError, "message", "internal error")
		return
	}

	l.Info().Str("wallet", req.Wallet).Msg("paid room registered")
	h.notify(telegram.RoomEvent{Kind: telegram.EventRoomPaid, RoomID: req.Room, Wallet: req.Wallet, TxHash: req.TxHash})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type freeRoomRequest struct {
	Room string `json:"room" binding:"required"`
}

// CreateFreeRoom registers a room whose id is outside the paid pattern.
func (h *Handler) CreateFreeRoom(c *gin.Context) {
	var req freeRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "error", "invalid request")
		return
	}

	if err := h.Policy.CheckFree(req.Room); err != nil {
		switch {
		case errors.Is(err, registry.ErrPaidRoom):
			h.fail(c, http.StatusBadRequest, "error", "room requires payment")
		default:
			h.fail(c, http.StatusBadRequest, "error", "invalid room id")
		}
		return
	}

	if err := h.Rooms.Add(c.Request.Context(), req.Room); err != nil {
		logger(c).Error().Err(err).Str(log.FieldRoomID, req.Room).Msg("failed to register free room")
		h.fail(c, http.StatusInternalServerError, "error", "internal error")
		return
	}

	logger(c).Info().Str(log.FieldRoomID, req.Room).Msg("free room registered")
	h.notify(telegram.RoomEvent{Kind: telegram.EventRoomFree, RoomID: req.Room})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RoomStatus reports whether a room is registered, with live statistics
// when a session is running for it. Rooms that must be paid for carry the
// exact amount, in the token's smallest unit.
func (h *Handler) RoomStatus(c *gin.Context) {
	roomID := c.Param("room")
	if err := registry.ValidateID(roomID); err != nil {
		h.fail(c, http.StatusBadRequest, "error", "invalid room id")
		return
	}

	registered, err := h.Rooms.Has(c.Request.Context(), roomID)
	if err != nil {
		logger(c).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to check registration")
		h.fail(c, http.StatusInternalServerError, "error", "internal error")
		return
	}

	paid := h.Policy.RequiresPayment(roomID)
	resp := gin.H{"success": true, "registered": registered, "requiresPayment": paid}
	if paid {
		resp["amount"] = h.Oracle.RequiredAmount().String()
	}
	if stats, live, err := h.Hub.RoomStats(roomID); err != nil {
		logger(c).Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to read live stats")
	} else if live {
		resp["stats"] = stats
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) notify(ev telegram.RoomEvent) {
	if h.Notifier != nil {
		h.Notifier.Notify(ev)
	}
}

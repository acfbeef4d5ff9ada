// Package handler is the HTTP and WebSocket front door of the relay.
package handler

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomrelay/backend/internal/api/middleware"
	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/config"
	"roomrelay/backend/internal/localization"
	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/media"
	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/payment"
	"roomrelay/backend/internal/registry"
	"roomrelay/backend/internal/telegram"
)

// Rooms is the registry as the gateway sees it.
type Rooms interface {
	Add(ctx context.Context, roomID string) error
	Has(ctx context.Context, roomID string) (bool, error)
}

// Verifier checks payment proofs. payment.Oracle implements it.
type Verifier interface {
	Verify(ctx context.Context, txHash, wallet string) payment.Result
	RequiredAmount() *big.Int
}

// Claimer records which room a transaction paid for.
type Claimer interface {
	ClaimPayment(ctx context.Context, claim *models.PaymentClaim) error
}

// Notifier hears about new rooms. telegram.Notifier implements it.
type Notifier interface {
	Notify(ev telegram.RoomEvent)
}

// Deps wires the handler to the rest of the process.
type Deps struct {
	Hub       *chathub.ManagerService
	Rooms     Rooms
	Policy    *registry.Policy
	Oracle    Verifier
	Claims    Claimer
	Uploader  *media.Uploader
	Notifier  Notifier // optional
	Admin     config.AdminConfig
	WebSocket config.WebSocketConfig
	RateLimit config.RateLimitConfig
	// SendBuffer is the per-connection outbound frame queue.
	SendBuffer int
	StaticDir  string
	// UploadDir is served under /uploads when uploads are stored locally.
	UploadDir string
	// TrustedProxies may set X-Forwarded-For. Empty trusts no one, so
	// client IPs are the TCP peer.
	TrustedProxies []string
}

type Handler struct {
	Deps
	loc      *localization.Localizer
	upgrader websocket.Upgrader
}

func NewHandler(deps Deps) *Handler {
	if deps.SendBuffer <= 0 {
		deps.SendBuffer = 256
	}
	return &Handler{
		Deps: deps,
		loc:  localization.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Rooms are public; the page may be served from another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) error {
	if err := r.SetTrustedProxies(h.TrustedProxies); err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	limiter := middleware.NewIPRateLimiter(h.RateLimit.Requests, h.RateLimit.Window).Middleware()

	r.GET("/healthz", h.Health)
	r.GET("/parties/chat/:room", h.ServeWebSocket)

	api := r.Group("/api")
	api.GET("/rooms/:room", h.RoomStatus)
	api.POST("/verify-payment", limiter, h.VerifyPayment)
	api.POST("/create-free-room", limiter, h.CreateFreeRoom)
	api.POST("/upload", limiter, h.Upload)
	api.POST("/admin/login", limiter, h.AdminLogin)

	moderation := api.Group("/admin/rooms/:room", h.RequireAdmin)
	moderation.GET("/messages", h.RoomMessages)
	moderation.POST("/purge-user", h.PurgeUser)

	if h.UploadDir != "" {
		files := http.StripPrefix(media.LocalURLPrefix, http.FileServer(gin.Dir(h.UploadDir, false)))
		r.GET(media.LocalURLPrefix+"/*filepath", uploadHeaders, gin.WrapH(files))
		r.HEAD(media.LocalURLPrefix+"/*filepath", uploadHeaders, gin.WrapH(files))
	}
	r.NoRoute(h.Static)
	return nil
}

// uploadHeaders stops browsers from treating user files as anything but the
// type they are served with.
func uploadHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Content-Security-Policy", "default-src 'none'; sandbox")
	c.Next()
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "activeRooms": len(h.Hub.ActiveRooms())})
}

// lang picks the response language from Accept-Language.
func (h *Handler) lang(c *gin.Context) string {
	return h.loc.Match(c.GetHeader("Accept-Language"))
}

// fail writes {success:false, <field>: localized reason}.
func (h *Handler) fail(c *gin.Context, status int, field, reason string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		field:     h.loc.GetString(h.lang(c), reason),
	})
}

func logger(c *gin.Context) *zerolog.Logger {
	return log.Ctx(c.Request.Context())
}

package chathub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomrelay/backend/internal/config"
	"roomrelay/backend/internal/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 << 10
)

// WebSocketClient implements Client over a gorilla websocket connection.
type WebSocketClient struct {
	ConnID  string
	RoomID  string
	Admin   bool
	Conn    *websocket.Conn
	Session *Session

	send      chan []byte
	closeOnce sync.Once

	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
	log            zerolog.Logger
}

// NewWebSocketClient wraps conn. Zero settings fall back to the package defaults.
func NewWebSocketClient(conn *websocket.Conn, roomID string, admin bool, cfg config.WebSocketConfig, buffer int) *WebSocketClient {
	c := &WebSocketClient{
		ConnID:         uuid.NewString(),
		RoomID:         roomID,
		Admin:          admin,
		Conn:           conn,
		send:           make(chan []byte, buffer),
		writeWait:      cfg.WriteWait,
		pongWait:       cfg.PongWait,
		pingPeriod:     cfg.PingInterval,
		maxMessageSize: cfg.MaxMessageSize,
	}
	if c.writeWait <= 0 {
		c.writeWait = writeWait
	}
	if c.pongWait <= 0 {
		c.pongWait = pongWait
	}
	if c.pingPeriod <= 0 || c.pingPeriod >= c.pongWait {
		c.pingPeriod = (c.pongWait * 9) / 10
	}
	if c.maxMessageSize <= 0 {
		c.maxMessageSize = maxMessageSize
	}
	c.log = log.Room(roomID).With().Str(log.FieldConnID, c.ConnID).Logger()
	return c
}

func (c *WebSocketClient) GetConnID() string { return c.ConnID }
func (c *WebSocketClient) IsAdmin() bool     { return c.Admin }

func (c *WebSocketClient) Send(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Run starts the pumps. Session must be set.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Session.Detach(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		kind, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := c.Session.Deliver(c, message); err != nil {
			return
		}
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package models

import "time"

// Role is the author kind of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageType is the media kind carried by a chat message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageAudio MessageType = "audio"
	MessageVideo MessageType = "video"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageAudio, MessageVideo, MessageFile:
		return true
	}
	return false
}

// TimestampLayout is the wire format of ChatMessage.Timestamp
// (ISO-8601, millisecond precision, UTC).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ChatMessage is one chat event as it travels over the wire.
type ChatMessage struct {
	// ID is chosen by the client and is the idempotency key within a room.
	ID      string `json:"id"`
	Content string `json:"content"`
	// User is the sender identity, usually a wallet address.
	User string `json:"user"`
	Role Role   `json:"role"`
	// Timestamp is assigned by the server when the message is first stored.
	Timestamp   string      `json:"timestamp,omitempty"`
	MessageType MessageType `json:"messageType,omitempty"`

	FileURL      string  `json:"fileUrl,omitempty"`
	FileName     string  `json:"fileName,omitempty"`
	FileSize     int64   `json:"fileSize,omitempty"`
	FileMimeType string  `json:"fileMimeType,omitempty"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
	Duration     float64 `json:"duration,omitempty"` // seconds
}

// FormatTimestamp renders t in the wire format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(TimestampLayout)
}

// ParseTimestamp accepts RFC 3339 timestamps and the "YYYY-MM-DD HH:MM:SS"
// form SQL defaults produce.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// OnlineUser is a presence record. It lives only in the memory of the room
// session that owns it.
type OnlineUser struct {
	Address      string `json:"address"`
	JoinTime     int64  `json:"joinTime"`     // epoch ms
	LastActivity int64  `json:"lastActivity"` // epoch ms
}

// RoomStats is the presence and usage snapshot broadcast in roomStats frames.
type RoomStats struct {
	TotalMessages     int            `json:"totalMessages"`
	UniqueUsers       int            `json:"uniqueUsers"`
	OnlineUsers       int            `json:"onlineUsers"`
	TotalVisitors     int64          `json:"totalVisitors"`
	UserMessageCounts map[string]int `json:"userMessageCounts"`
	OnlineUsersList   []OnlineUser   `json:"onlineUsersList"`
}

// AdminStats answers an admin getStats request.
type AdminStats struct {
	TotalMessages     int            `json:"totalMessages"`
	UniqueUsers       int            `json:"uniqueUsers"`
	UserMessageCounts map[string]int `json:"userMessageCounts"`
	Messages          []ChatMessage  `json:"messages"`
}

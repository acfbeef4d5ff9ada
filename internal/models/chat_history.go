package models

import "time"

// MessageRecord is the persisted form of a ChatMessage. Rows are partitioned
// by room and keyed by (room_id, id), so a message id only has to be unique
// within its room.
type MessageRecord struct {
	// RoomID is the room the message belongs to.
	RoomID string `gorm:"primaryKey;type:varchar(128);index:idx_messages_room_ts,priority:1"`
	// ID is the client-chosen message id.
	ID string `gorm:"primaryKey;type:varchar(128)"`
	// Sender is the identity that wrote the message ("user" is reserved in Postgres).
	Sender  string `gorm:"column:sender;type:text;not null;index"`
	Role    string `gorm:"type:varchar(16);not null;default:user"`
	Content string `gorm:"type:text;not null"`
	// Timestamp is the creation time. Updates never change it.
	Timestamp   time.Time `gorm:"not null;index:idx_messages_room_ts,priority:2"`
	MessageType string    `gorm:"type:varchar(16);not null;default:text"`

	FileURL      string `gorm:"type:text"`
	FileName     string `gorm:"type:text"`
	FileSize     int64
	FileMimeType string `gorm:"type:varchar(128)"`
	ThumbnailURL string `gorm:"type:text"`
	Duration     float64
}

func (MessageRecord) TableName() string { return "messages" }

// NewMessageRecord converts a wire message for storage. at is used when the
// message carries no parseable timestamp.
func NewMessageRecord(roomID string, msg ChatMessage, at time.Time) *MessageRecord {
	ts, ok := ParseTimestamp(msg.Timestamp)
	if !ok {
		ts = at.UTC()
	}
	kind := msg.MessageType
	if kind == "" {
		kind = MessageText
	}
	role := msg.Role
	if role == "" {
		role = RoleUser
	}
	return &MessageRecord{
		RoomID:       roomID,
		ID:           msg.ID,
		Sender:       msg.User,
		Role:         string(role),
		Content:      msg.Content,
		Timestamp:    ts.Truncate(time.Millisecond),
		MessageType:  string(kind),
		FileURL:      msg.FileURL,
		FileName:     msg.FileName,
		FileSize:     msg.FileSize,
		FileMimeType: msg.FileMimeType,
		ThumbnailURL: msg.ThumbnailURL,
		Duration:     msg.Duration,
	}
}

// ChatMessage converts the record back to its wire form.
func (m *MessageRecord) ChatMessage() ChatMessage {
	return ChatMessage{
		ID:           m.ID,
		Content:      m.Content,
		User:         m.Sender,
		Role:         Role(m.Role),
		Timestamp:    FormatTimestamp(m.Timestamp),
		MessageType:  MessageType(m.MessageType),
		FileURL:      m.FileURL,
		FileName:     m.FileName,
		FileSize:     m.FileSize,
		FileMimeType: m.FileMimeType,
		ThumbnailURL: m.ThumbnailURL,
		Duration:     m.Duration,
	}
}

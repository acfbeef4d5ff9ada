// Package protocol defines the JSON frames exchanged with chat clients.
//
// Every frame is an object tagged by its "type" field. Inbound frames decode
// into one of the Inbound variants; anything else is rejected by Decode.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"roomrelay/backend/internal/models"
)

// Frame types.
const (
	TypeAll       = "all"
	TypeAdd       = "add"
	TypeUpdate    = "update"
	TypeDelete    = "delete"
	TypeClear     = "clear"
	TypeAdmin     = "admin"
	TypeStats     = "stats"
	TypeUserJoin  = "userJoin"
	TypeUserLeave = "userLeave"
	TypeRoomStats = "roomStats"
	TypeHeartbeat = "heartbeat"
)

// AdminAction is the moderation command carried by an admin frame.
type AdminAction string

const (
	ActionDelete     AdminAction = "delete"
	ActionClear      AdminAction = "clear"
	ActionDeleteUser AdminAction = "deleteUser"
	ActionGetStats   AdminAction = "getStats"
)

var (
	ErrMalformed     = errors.New("malformed frame")
	ErrUnknownType   = errors.New("unknown frame type")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidField  = errors.New("invalid field value")
	ErrUnknownAction = errors.New("unknown admin action")
)

// Inbound is a frame a client may send. The variants are MessageFrame,
// AdminFrame and PresenceFrame.
type Inbound interface {
	inbound()
}

// MessageFrame carries an add or update. The message fields are inlined
// next to "type".
type MessageFrame struct {
	Type string `json:"type"`
	models.ChatMessage
}

// AdminFrame is a moderation request.
type AdminFrame struct {
	Type      string      `json:"type"`
	Action    AdminAction `json:"action"`
	MessageID string      `json:"messageId,omitempty"`
	User      string      `json:"user,omitempty"`
}

// PresenceFrame is a userJoin or heartbeat from a client, and a userJoin or
// userLeave notification from the server.
type PresenceFrame struct {
	Type string `json:"type"`
	User string `json:"user"`
}

func (*MessageFrame) inbound()  {}
func (*AdminFrame) inbound()    {}
func (*PresenceFrame) inbound() {}

// MaxIDLength bounds message ids; the storage key column is varchar(128).
const MaxIDLength = 128

type envelope struct {
	Type string `json:"type"`
}

// Decode parses one inbound text frame. Message frames come back with role
// and messageType defaulted.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeAdd, TypeUpdate:
		var f MessageFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := f.normalize(); err != nil {
			return nil, err
		}
		return &f, nil

	case TypeAdmin:
		var f AdminFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := f.validate(); err != nil {
			return nil, err
		}
		return &f, nil

	case TypeUserJoin, TypeHeartbeat:
		var f PresenceFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if f.User == "" {
			return nil, fmt.Errorf("%w: user", ErrMissingField)
		}
		return &f, nil

	case "":
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func (f *MessageFrame) normalize() error {
	if f.ID == "" {
		return fmt.Errorf("%w: id", ErrMissingField)
	}
	if len(f.ID) > MaxIDLength {
		return fmt.Errorf("%w: id longer than %d bytes", ErrInvalidField, MaxIDLength)
	}
	if f.User == "" {
		return fmt.Errorf("%w: user", ErrMissingField)
	}
	switch f.Role {
	case "":
		f.Role = models.RoleUser
	case models.RoleUser, models.RoleAssistant:
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidField, f.Role)
	}
	if f.MessageType == "" {
		f.MessageType = models.MessageText
	} else if !f.MessageType.Valid() {
		return fmt.Errorf("%w: messageType %q", ErrInvalidField, f.MessageType)
	}
	if f.FileSize < 0 || f.Duration < 0 {
		return fmt.Errorf("%w: negative size or duration", ErrInvalidField)
	}
	return nil
}

func (f *AdminFrame) validate() error {
	switch f.Action {
	case ActionDelete:
		if f.MessageID == "" {
			return fmt.Errorf("%w: messageId", ErrMissingField)
		}
	case ActionDeleteUser:
		if f.User == "" {
			return fmt.Errorf("%w: user", ErrMissingField)
		}
	case ActionClear, ActionGetStats:
	case "":
		return fmt.Errorf("%w: action", ErrMissingField)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, f.Action)
	}
	return nil
}

package protocol

import (
	"encoding/json"

	"roomrelay/backend/internal/models"
)

type SnapshotFrame struct {
	Type     string               `json:"type"`
	Messages []models.ChatMessage `json:"messages"`
}

type DeleteFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type ClearFrame struct {
	Type string `json:"type"`
}

type StatsFrame struct {
	Type string            `json:"type"`
	Data models.AdminStats `json:"data"`
}

type RoomStatsFrame struct {
	Type  string           `json:"type"`
	Stats models.RoomStats `json:"stats"`
}

// Snapshot builds the "all" frame. A nil slice is sent as [].
func Snapshot(messages []models.ChatMessage) SnapshotFrame {
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return SnapshotFrame{Type: TypeAll, Messages: messages}
}

func Message(kind string, msg models.ChatMessage) MessageFrame {
	return MessageFrame{Type: kind, ChatMessage: msg}
}

func Deleted(id string) DeleteFrame { return DeleteFrame{Type: TypeDelete, ID: id} }

func Cleared() ClearFrame { return ClearFrame{Type: TypeClear} }

func Joined(user string) PresenceFrame { return PresenceFrame{Type: TypeUserJoin, User: user} }

func Left(user string) PresenceFrame { return PresenceFrame{Type: TypeUserLeave, User: user} }

func Stats(data models.AdminStats) StatsFrame {
	if data.Messages == nil {
		data.Messages = []models.ChatMessage{}
	}
	return StatsFrame{Type: TypeStats, Data: data}
}

func RoomStats(stats models.RoomStats) RoomStatsFrame {
	if stats.OnlineUsersList == nil {
		stats.OnlineUsersList = []models.OnlineUser{}
	}
	return RoomStatsFrame{Type: TypeRoomStats, Stats: stats}
}

// Encode marshals an outbound frame.
func Encode(frame any) ([]byte, error) {
	return json.Marshal(frame)
}

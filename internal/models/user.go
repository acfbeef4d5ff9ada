package models

import "time"

// Visitor counts how often an identity has joined a room. One row per
// (room, address); the number of rows for a room is its totalVisitors.
type Visitor struct {
	RoomID     string    `gorm:"primaryKey;type:varchar(128)"`
	Address    string    `gorm:"primaryKey;type:varchar(128)"`
	FirstVisit time.Time `gorm:"not null"`
	LastVisit  time.Time `gorm:"not null"`
	VisitCount int       `gorm:"not null;default:1"`
}

func (Visitor) TableName() string { return "visitors" }

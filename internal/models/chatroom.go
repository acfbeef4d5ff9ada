package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// RegisteredRoom is one entry of the global set of rooms that may be opened.
// Entries are never updated or removed.
type RegisteredRoom struct {
	// RoomID is the room identifier as used in connection URLs.
	RoomID string `gorm:"primaryKey;type:varchar(128)"`
	// CreatedAt is when the room was first registered.
	CreatedAt time.Time
}

func (RegisteredRoom) TableName() string { return "registered_rooms" }

// PaymentClaim records which room a verified payment transaction paid for,
// so the same transaction cannot unlock a second room.
type PaymentClaim struct {
	// TxHash is the lowercase 0x-prefixed transaction hash.
	TxHash string `gorm:"primaryKey;type:varchar(66)"`
	// RoomID is the room the payment registered.
	RoomID string `gorm:"type:varchar(128);not null;index"`
	// Wallet is the sender address the payment was verified against.
	Wallet    string `gorm:"type:varchar(42);not null"`
	CreatedAt time.Time
}

func (PaymentClaim) TableName() string { return "payment_claims" }

// BeforeCreate normalizes the hash so lookups are case-insensitive.
func (p *PaymentClaim) BeforeCreate(tx *gorm.DB) (err error) {
	p.TxHash = strings.ToLower(p.TxHash)
	p.Wallet = strings.ToLower(p.Wallet)
	return
}

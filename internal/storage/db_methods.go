package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roomrelay/backend/internal/models"
)

// RecordVisit upserts the visitor row for address and reports whether this
// was the address's first visit to the room.
func (s *Service) RecordVisit(ctx context.Context, roomID, address string, at time.Time) (bool, error) {
	first := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		visitor := models.Visitor{
			RoomID:     roomID,
			Address:    address,
			FirstVisit: at.UTC(),
			LastVisit:  at.UTC(),
			VisitCount: 1,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&visitor)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			first = true
			return nil
		}

		return tx.Model(&models.Visitor{}).
			Where("room_id = ? AND address = ?", roomID, address).
			Updates(map[string]interface{}{
				"last_visit":  at.UTC(),
				"visit_count": gorm.Expr("visit_count + 1"),
			}).Error
	})
	if err != nil {
		return false, fmt.Errorf("record visit of %s to room %s: %w", address, roomID, err)
	}
	return first, nil
}

// CountVisitors returns the number of distinct addresses ever seen in a room.
func (s *Service) CountVisitors(ctx context.Context, roomID string) (int64, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.Visitor{}).Where("room_id = ?", roomID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count visitors of room %s: %w", roomID, err)
	}
	return n, nil
}

// AddRoom registers roomID. Registering an existing room is a no-op.
func (s *Service) AddRoom(ctx context.Context, roomID string) error {
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.RegisteredRoom{RoomID: roomID}).Error
	if err != nil {
		return fmt.Errorf("register room %s: %w", roomID, err)
	}
	return nil
}

func (s *Service) HasRoom(ctx context.Context, roomID string) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.RegisteredRoom{}).Where("room_id = ?", roomID).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("look up room %s: %w", roomID, err)
	}
	return n > 0, nil
}

// ListRooms returns registered rooms in registration order.
func (s *Service) ListRooms(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.RegisteredRoom{}).
		Order("created_at asc").
		Order("room_id asc").
		Pluck("room_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return ids, nil
}

// ClaimPayment binds a transaction hash to a room. Claiming the same hash for
// the same room again succeeds, so a client may retry verification.
func (s *Service) ClaimPayment(ctx context.Context, claim *models.PaymentClaim) error {
	db := s.DB.WithContext(ctx)

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(claim)
	if res.Error != nil {
		return fmt.Errorf("claim payment %s: %w", claim.TxHash, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var existing models.PaymentClaim
	err := db.Where("tx_hash = ?", strings.ToLower(claim.TxHash)).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("claim payment %s: conflicting row vanished", claim.TxHash)
	}
	if err != nil {
		return fmt.Errorf("claim payment %s: %w", claim.TxHash, err)
	}
	if existing.RoomID != claim.RoomID {
		return ErrPaymentAlreadyClaimed
	}
	return nil
}

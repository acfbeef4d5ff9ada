package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roomrelay/backend/internal/models"
)

// ErrPaymentAlreadyClaimed is returned when a transaction hash already paid
// for a different room.
var ErrPaymentAlreadyClaimed = errors.New("transaction already used")

// Storage is everything the chat and payment layers persist.
type Storage interface {
	LoadMessages(ctx context.Context, roomID string) ([]models.ChatMessage, error)
	UpsertMessage(ctx context.Context, roomID string, msg models.ChatMessage) error
	DeleteMessage(ctx context.Context, roomID, id string) error
	DeleteAllMessages(ctx context.Context, roomID string) error
	DeleteUserMessages(ctx context.Context, roomID, user string) (int64, error)

	RecordVisit(ctx context.Context, roomID, address string, at time.Time) (bool, error)
	CountVisitors(ctx context.Context, roomID string) (int64, error)

	AddRoom(ctx context.Context, roomID string) error
	HasRoom(ctx context.Context, roomID string) (bool, error)
	ListRooms(ctx context.Context) ([]string, error)

	ClaimPayment(ctx context.Context, claim *models.PaymentClaim) error
}

// Service implements Storage on top of gorm.
type Service struct {
	DB *gorm.DB
}

var _ Storage = (*Service)(nil)

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// updatable excludes the key columns and timestamp, so an upsert keeps the
// creation time of the first write.
var updatable = []string{
	"sender", "role", "content", "message_type",
	"file_url", "file_name", "file_size", "file_mime_type", "thumbnail_url", "duration",
}

// LoadMessages returns a room's messages oldest first. Messages with equal
// timestamps are ordered by id.
func (s *Service) LoadMessages(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	var records []models.MessageRecord
	err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("timestamp asc").
		Order("id asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load messages for room %s: %w", roomID, err)
	}

	messages := make([]models.ChatMessage, 0, len(records))
	for i := range records {
		messages = append(messages, records[i].ChatMessage())
	}
	return messages, nil
}

// UpsertMessage inserts msg, or overwrites the stored fields of the message
// with the same id.
func (s *Service) UpsertMessage(ctx context.Context, roomID string, msg models.ChatMessage) error {
	rec := models.NewMessageRecord(roomID, msg, time.Now())
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns(updatable),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert message %s in room %s: %w", msg.ID, roomID, err)
	}
	return nil
}

func (s *Service) DeleteMessage(ctx context.Context, roomID, id string) error {
	err := s.DB.WithContext(ctx).
		Where("room_id = ? AND id = ?", roomID, id).
		Delete(&models.MessageRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete message %s in room %s: %w", id, roomID, err)
	}
	return nil
}

func (s *Service) DeleteAllMessages(ctx context.Context, roomID string) error {
	err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Delete(&models.MessageRecord{}).Error
	if err != nil {
		return fmt.Errorf("clear room %s: %w", roomID, err)
	}
	return nil
}

// DeleteUserMessages removes every message written by user and returns how
// many rows went away.
func (s *Service) DeleteUserMessages(ctx context.Context, roomID, user string) (int64, error) {
	result := s.DB.WithContext(ctx).
		Where("room_id = ? AND sender = ?", roomID, user).
		Delete(&models.MessageRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete messages of %s in room %s: %w", user, roomID, result.Error)
	}
	return result.RowsAffected, nil
}

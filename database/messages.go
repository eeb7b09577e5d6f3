package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/CUknot/project_chat/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrEmptyContent = errors.New("message content is required")
	ErrNoRoom       = errors.New("message has no room, projectId or taskId")
)

// MessageStore persists chat messages and per-user read markers.
type MessageStore struct {
	db *gorm.DB
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Create saves msg, assigning its id, room and timestamp. A message whose ClientID
// was already stored is not inserted again; msg is overwritten with the stored row.
func (s *MessageStore) Create(ctx context.Context, msg *models.Message) error {
	if strings.TrimSpace(msg.Content) == "" {
		return ErrEmptyContent
	}
	if msg.DeriveRoom() == "" {
		return ErrNoRoom
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	db := s.db.WithContext(ctx)
	if msg.ClientID == "" {
		return db.Create(msg).Error
	}

	// A concurrent create with the same key conflicts on idx_client_room.
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(msg)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var existing models.Message
	if err := db.Where("client_id = ? AND room = ?", msg.ClientID, msg.Room).First(&existing).Error; err != nil {
		return err
	}
	*msg = existing
	return nil
}

// History returns the most recent limit messages of a room, oldest first.
func (s *MessageStore) History(ctx context.Context, room string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("room = ?", room).
		Order("sent_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead moves the user's read marker for room to at.
func (s *MessageStore) MarkRead(ctx context.Context, room, userID string, at time.Time) error {
	reader := models.RoomReader{Room: room, UserID: userID, LastReadAt: at}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_read_at", "updated_at"}),
	}).Create(&reader).Error
}

// UnreadCount counts messages in room newer than the user's read marker.
// Without a marker every message is unread.
func (s *MessageStore) UnreadCount(ctx context.Context, room, userID string) (int64, error) {
	db := s.db.WithContext(ctx)

	var reader models.RoomReader
	lastRead := time.Time{}
	err := db.Where("room = ? AND user_id = ?", room, userID).First(&reader).Error
	switch {
	case err == nil:
		lastRead = reader.LastReadAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, err
	}

	var count int64
	err = db.Model(&models.Message{}).
		Where("room = ? AND sent_at > ?", room, lastRead).
		Count(&count).Error
	return count, err
}

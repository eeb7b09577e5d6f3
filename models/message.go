package models

import (
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

// Message types carried in the Type discriminator.
const (
	TypeProject = "project"
	TypeTask    = "task"
	TypeUser    = "user"
	TypeComment = "comment"
)

type Message struct {
	ID         string    `gorm:"primaryKey;size:21" json:"_id"`
	ClientID   string    `gorm:"size:64;uniqueIndex:idx_client_room,where:client_id <> ''" json:"clientId,omitempty"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Sender     string    `gorm:"size:255;index" json:"sender"`
	SenderName string    `gorm:"size:255" json:"senderName,omitempty"`
	ProjectID  string    `gorm:"size:64" json:"projectId,omitempty"`
	TaskID     string    `gorm:"size:64" json:"taskId,omitempty"`
	Room       string    `gorm:"size:160;index:idx_room_sent_at;uniqueIndex:idx_client_room,where:client_id <> ''" json:"room"`
	Type       string    `gorm:"size:32" json:"type,omitempty"`
	Timestamp  time.Time `gorm:"column:sent_at;index:idx_room_sent_at" json:"timestamp"`
	CreatedAt  time.Time `json:"createdAt"`
}

// BeforeCreate assigns the permanent identifier.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID, err = gonanoid.New()
	}
	return
}

// DeriveRoom fills Room from TaskID or ProjectID when it is empty and returns it.
func (m *Message) DeriveRoom() string {
	if m.Room != "" {
		return m.Room
	}
	switch {
	case m.TaskID != "":
		m.Room = RoomKey(TypeTask, m.TaskID)
	case m.ProjectID != "":
		m.Room = RoomKey(TypeProject, m.ProjectID)
	}
	return m.Room
}

// RoomKey builds the "{entityType}-{entityId}" broadcast key.
func RoomKey(entityType, entityID string) string {
	return fmt.Sprintf("%s-%s", entityType, entityID)
}

// ParseRoomKey splits a room key at its first dash. Entity ids may contain dashes.
func ParseRoomKey(key string) (entityType, entityID string, ok bool) {
	entityType, entityID, ok = strings.Cut(key, "-")
	if !ok || entityType == "" || entityID == "" {
		return "", "", false
	}
	return entityType, entityID, true
}

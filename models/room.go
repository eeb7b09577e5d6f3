package models

import (
	"time"
)

// RoomReader records when a user last read a room.
type RoomReader struct {
	Room       string    `gorm:"primaryKey;size:160" json:"room"`
	UserID     string    `gorm:"primaryKey;size:255" json:"user_id"`
	LastReadAt time.Time `json:"last_read_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

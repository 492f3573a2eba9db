package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ChatHistory struct {
	Id         uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionKey string         `gorm:"type:varchar(255);not null;index:idx_chat_history_session_ts,priority:1"`
	Role       string         `gorm:"type:varchar(16);not null"`
	Message    string         `gorm:"type:text;not null"`
	Meta       datatypes.JSON `gorm:"type:jsonb"`
	Timestamp  time.Time      `gorm:"not null;index:idx_chat_history_session_ts,priority:2"`
}

func (ChatHistory) TableName() string {
	return "chat_history"
}

package entity

import (
	"time"

	"github.com/google/uuid"
)

type ChatHistory struct {
	Id         uuid.UUID
	SessionKey string
	Role       string
	Message    string
	Meta       map[string]any
	Timestamp  time.Time
}

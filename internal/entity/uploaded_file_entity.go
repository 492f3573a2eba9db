package entity

import (
	"time"

	"github.com/google/uuid"
)

type UploadedFile struct {
	Id          uuid.UUID
	SessionKey  string
	Filename    string
	ContentType string
	Size        int64
	Status      string
	Meta        map[string]any
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

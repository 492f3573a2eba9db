package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type UploadedFile struct {
	Id          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionKey  string         `gorm:"type:varchar(255);index"` // empty for REST uploads
	Filename    string         `gorm:"type:text;not null"`
	ContentType string         `gorm:"type:varchar(255)"`
	Size        int64          `gorm:"default:0"`
	Status      string         `gorm:"type:varchar(20);not null;index"`
	Meta        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
}

func (UploadedFile) TableName() string {
	return "uploaded_files"
}

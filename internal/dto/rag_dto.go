package dto

import (
	"time"

	"github.com/google/uuid"
)

type QueryRequest struct {
	Question string `json:"question" validate:"required,max=4000"`
}

type QueryResponse struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

type IndexStatsResponse struct {
	Chunks    int64      `json:"chunks"`
	Sources   int64      `json:"sources"`
	Version   int64      `json:"version"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	Readers   int        `json:"active_readers"`
	Writing   bool       `json:"writing"`
}

type ListDocumentsRequest struct {
	SessionKey string `validate:"max=255"`
	Status     string `validate:"omitempty,oneof=PROCESSING INDEXED FAILED"`
}

type UploadDocumentResponse struct {
	Id       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	Status   string    `json:"status"`
}

type UploadedFileResponse struct {
	Id         uuid.UUID      `json:"id"`
	SessionKey string         `json:"session_key,omitempty"`
	Filename   string         `json:"filename"`
	Size       int64          `json:"size"`
	Status     string         `json:"status"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  *time.Time     `json:"updated_at"`
}

// IngestDocumentMessage is the payload published on the ingest topic.
type IngestDocumentMessage struct {
	UploadId uuid.UUID `json:"upload_id"`
	Path     string    `json:"path"`
	Dir      string    `json:"dir"`
	Filename string    `json:"filename"`
}

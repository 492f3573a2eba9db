package dto

import (
	"time"

	"github.com/google/uuid"
)

// InboundEvent is a JSON frame received on a session websocket.
type InboundEvent struct {
	Type     string `json:"type"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data,omitempty"` // base64 file content
	Text     string `json:"text,omitempty"`
}

type ChatHistoryResponse struct {
	Id        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type GetChatHistoryRequest struct {
	SessionKey string `validate:"required,max=255"`
	Limit      int    `validate:"min=1,max=500"`
}

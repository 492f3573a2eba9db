package contract

import (
	"context"

	"rag-chat-be/internal/entity"
	"rag-chat-be/internal/repository/specification"
)

type ChatHistoryRepository interface {
	Create(ctx context.Context, message *entity.ChatHistory) error
	// FindRecent returns the newest limit rows of a session ordered oldest first.
	FindRecent(ctx context.Context, sessionKey string, limit int) ([]*entity.ChatHistory, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatHistory, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	DeleteBySessionKey(ctx context.Context, sessionKey string) error
}

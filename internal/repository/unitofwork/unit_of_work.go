package unitofwork

import (
	"context"

	"rag-chat-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	ChatHistoryRepository() contract.ChatHistoryRepository
	DocumentChunkRepository() contract.DocumentChunkRepository
	UploadedFileRepository() contract.UploadedFileRepository
}

package contract

import (
	"context"

	"rag-chat-be/internal/entity"
	"rag-chat-be/internal/repository/specification"
)

type DocumentChunkRepository interface {
	CreateBulk(ctx context.Context, chunks []*entity.DocumentChunk) error
	SearchSimilarWithScore(ctx context.Context, embedding []float32, limit int) ([]*entity.ScoredDocumentChunk, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DocumentChunk, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	CountSources(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) error
}

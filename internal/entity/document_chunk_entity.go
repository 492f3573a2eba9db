package entity

import (
	"time"

	"github.com/google/uuid"
)

type DocumentChunk struct {
	Id         uuid.UUID
	Source     string
	ChunkIndex int
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredDocumentChunk carries the cosine similarity of a chunk against a query.
type ScoredDocumentChunk struct {
	Chunk      *DocumentChunk
	Similarity float64
}

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rag-chat-be/internal/entity"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/internal/repository/unitofwork"
	"rag-chat-be/pkg/embedding"
	"rag-chat-be/pkg/events"
	"rag-chat-be/pkg/utils"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
	embedConcurrency    = 4
)

type ScoredDocument struct {
	Content  string
	Source   string
	Score    float64
	HasScore bool
}

type Stats struct {
	Chunks    int64      `json:"chunks"`
	Sources   int64      `json:"sources"`
	Version   int64      `json:"version"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Index is the shared knowledge store. Callers serialize RebuildOrExtend and
// Reset against SimilaritySearch with a rwlock.PriorityLock.
type Index interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]ScoredDocument, error)
	RebuildOrExtend(ctx context.Context, paths []string) error
	Reset(ctx context.Context) error
	Stats(ctx context.Context) (*Stats, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type VectorIndex struct {
	uowFactory unitofwork.RepositoryFactory
	embedder   embedding.EmbeddingProvider
	marker     VersionMarker
	publisher  EventPublisher
	logger     logger.ILogger
	now        func() time.Time

	chunkSize    int
	chunkOverlap int
}

type Option func(*VectorIndex)

func WithMarker(m VersionMarker) Option {
	return func(v *VectorIndex) { v.marker = m }
}

func WithPublisher(p EventPublisher) Option {
	return func(v *VectorIndex) { v.publisher = p }
}

func WithChunking(size, overlap int) Option {
	return func(v *VectorIndex) {
		v.chunkSize = size
		v.chunkOverlap = overlap
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *VectorIndex) { v.now = now }
}

func NewVectorIndex(uowFactory unitofwork.RepositoryFactory, embedder embedding.EmbeddingProvider, log logger.ILogger, opts ...Option) *VectorIndex {
	v := &VectorIndex{
		uowFactory:   uowFactory,
		embedder:     embedder,
		logger:       log,
		now:          time.Now,
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *VectorIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]ScoredDocument, error) {
	res, err := v.embedder.Generate(ctx, query, embedding.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	uow := v.uowFactory.NewUnitOfWork(ctx)
	scored, err := uow.DocumentChunkRepository().SearchSimilarWithScore(ctx, res.Embedding.Values, k)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if len(scored) == 0 {
		return nil, ErrIndexEmpty
	}

	docs := make([]ScoredDocument, 0, len(scored))
	for _, s := range scored {
		docs = append(docs, ScoredDocument{
			Content:  s.Chunk.Content,
			Source:   s.Chunk.Source,
			Score:    clampScore(s.Similarity),
			HasScore: true,
		})
	}
	return docs, nil
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// RebuildOrExtend adds the given files to the index. Unreadable or
// unsupported files are skipped; the call fails only when nothing at all
// could be indexed or the store rejects the batch.
func (v *VectorIndex) RebuildOrExtend(ctx context.Context, paths []string) error {
	var chunks []*entity.DocumentChunk
	var sources []string

	for _, p := range paths {
		doc, err := loadDocument(p)
		if err != nil {
			v.logger.Warn("KNOWLEDGE", "Skipping file", map[string]interface{}{"path": p, "error": err.Error()})
			continue
		}
		sources = append(sources, doc.Source)
		for i, piece := range utils.SplitText(doc.Content, v.chunkSize, v.chunkOverlap) {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			chunks = append(chunks, &entity.DocumentChunk{
				Source:     doc.Source,
				ChunkIndex: i,
				Content:    piece,
			})
		}
	}

	if len(chunks) == 0 {
		return fmt.Errorf("%w: %w", ErrIndexBuild, ErrNoDocuments)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for _, c := range chunks {
		g.Go(func() error {
			res, err := v.embedder.Generate(gctx, c.Content, embedding.TaskRetrievalDocument)
			if err != nil {
				return fmt.Errorf("embed %s#%d: %w", c.Source, c.ChunkIndex, err)
			}
			c.Embedding = res.Embedding.Values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}

	if err := v.store(ctx, chunks); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}

	v.logger.Info("KNOWLEDGE", "Index extended", map[string]interface{}{
		"sources": sources,
		"chunks":  len(chunks),
	})

	now := v.now()
	var version int64
	if v.marker != nil {
		var err error
		if version, err = v.marker.Bump(ctx, now); err != nil {
			v.logger.Warn("KNOWLEDGE", "Failed to bump index version", map[string]interface{}{"error": err.Error()})
		}
	}
	v.publish(ctx, events.NewIndexRebuiltEvent(version, sources, len(chunks), now))
	return nil
}

func (v *VectorIndex) store(ctx context.Context, chunks []*entity.DocumentChunk) (err error) {
	uow := v.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := uow.Rollback(); rbErr != nil {
				v.logger.Error("KNOWLEDGE", "Rollback failed", map[string]interface{}{"error": rbErr})
			}
		}
	}()

	if err = uow.DocumentChunkRepository().CreateBulk(ctx, chunks); err != nil {
		return err
	}
	return uow.Commit()
}

func (v *VectorIndex) Reset(ctx context.Context) error {
	uow := v.uowFactory.NewUnitOfWork(ctx)
	if err := uow.DocumentChunkRepository().DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if v.marker != nil {
		if err := v.marker.Clear(ctx); err != nil {
			v.logger.Warn("KNOWLEDGE", "Failed to clear index version", map[string]interface{}{"error": err.Error()})
		}
	}
	v.logger.Info("KNOWLEDGE", "Index reset", nil)
	v.publish(ctx, events.NewIndexResetEvent(v.now()))
	return nil
}

func (v *VectorIndex) Stats(ctx context.Context) (*Stats, error) {
	repo := v.uowFactory.NewUnitOfWork(ctx).DocumentChunkRepository()

	chunks, err := repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	sources, err := repo.CountSources(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Chunks: chunks, Sources: sources}
	if v.marker != nil {
		version, updatedAt, err := v.marker.Read(ctx)
		if err != nil {
			v.logger.Warn("KNOWLEDGE", "Failed to read index version", map[string]interface{}{"error": err.Error()})
		} else {
			stats.Version = version
			stats.UpdatedAt = updatedAt
		}
	}
	return stats, nil
}

func (v *VectorIndex) publish(ctx context.Context, e events.Event) {
	if v.publisher == nil {
		return
	}
	if err := v.publisher.Publish(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		v.logger.Warn("KNOWLEDGE", "Failed to publish event", map[string]interface{}{"type": e.EventType(), "error": err.Error()})
	}
}

package service

import (
	"context"

	"rag-chat-be/internal/dto"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/pkg/rag/knowledge"
	"rag-chat-be/pkg/rwlock"
)

type IIndexService interface {
	Reset(ctx context.Context) error
	Stats(ctx context.Context) (*dto.IndexStatsResponse, error)
}

// Flusher drops cached query embeddings once the index they were built for is gone.
type Flusher interface {
	Flush()
}

type indexService struct {
	index  knowledge.Index
	lock   *rwlock.PriorityLock
	cache  Flusher
	logger logger.ILogger
}

func NewIndexService(index knowledge.Index, lock *rwlock.PriorityLock, cache Flusher, log logger.ILogger) IIndexService {
	return &indexService{
		index:  index,
		lock:   lock,
		cache:  cache,
		logger: log,
	}
}

func (s *indexService) Reset(ctx context.Context) error {
	err := s.lock.WithWrite(ctx, func(ctx context.Context) error {
		return s.index.Reset(ctx)
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Flush()
	}
	s.logger.Info("INDEX", "Knowledge index wiped", nil)
	return nil
}

// Stats reads counts under the read lock so a rebuild in progress is not observed half done.
func (s *indexService) Stats(ctx context.Context) (*dto.IndexStatsResponse, error) {
	var stats *knowledge.Stats
	err := s.lock.WithRead(ctx, func(ctx context.Context) error {
		var err error
		stats, err = s.index.Stats(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	state := s.lock.State()
	return &dto.IndexStatsResponse{
		Chunks:    stats.Chunks,
		Sources:   stats.Sources,
		Version:   stats.Version,
		UpdatedAt: stats.UpdatedAt,
		Readers:   state.Readers,
		Writing:   state.Writing,
	}, nil
}

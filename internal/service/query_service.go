package service

import (
	"context"
	"errors"
	"strings"

	"rag-chat-be/internal/constant"
	"rag-chat-be/internal/dto"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/pkg/llm"
	"rag-chat-be/pkg/rag/knowledge"
	"rag-chat-be/pkg/rag/pipeline"
	"rag-chat-be/pkg/rwlock"
)

type IQueryService interface {
	Ask(ctx context.Context, req *dto.QueryRequest) (*dto.QueryResponse, error)
}

type queryService struct {
	index  knowledge.Index
	lock   *rwlock.PriorityLock
	llm    llm.LLMProvider
	topK   int
	logger logger.ILogger
}

func NewQueryService(index knowledge.Index, lock *rwlock.PriorityLock, llmProvider llm.LLMProvider, topK int, log logger.ILogger) IQueryService {
	if topK <= 0 {
		topK = 4
	}
	return &queryService{
		index:  index,
		lock:   lock,
		llm:    llmProvider,
		topK:   topK,
		logger: log,
	}
}

// Ask answers a single question from the index without touching any session.
// Search and model failures degrade to the fixed no-answer reply.
func (s *queryService) Ask(ctx context.Context, req *dto.QueryRequest) (*dto.QueryResponse, error) {
	noAnswer := &dto.QueryResponse{Answer: constant.QueryNoAnswer}

	var docs []knowledge.ScoredDocument
	err := s.lock.WithRead(ctx, func(ctx context.Context) error {
		var err error
		docs, err = s.index.SimilaritySearch(ctx, req.Question, s.topK)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !errors.Is(err, knowledge.ErrIndexEmpty) {
			s.logger.Warn("QUERY", "Similarity search failed", map[string]interface{}{"error": err.Error()})
		}
		return noAnswer, nil
	}
	if len(docs) == 0 {
		return noAnswer, nil
	}

	confidence := pipeline.MeanConfidence(docs)
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}

	s.logger.Info("QUERY", "Answering from retrieved documents", map[string]interface{}{
		"documents":  len(docs),
		"confidence": confidence,
	})

	answer, err := s.llm.Generate(ctx, pipeline.QueryPrompt(strings.Join(texts, "\n\n"), req.Question))
	if err != nil {
		s.logger.Warn("QUERY", "LLM call failed", map[string]interface{}{"error": err.Error()})
		return &dto.QueryResponse{Answer: constant.QueryNoAnswer, Confidence: confidence}, nil
	}

	return &dto.QueryResponse{Answer: strings.TrimSpace(answer), Confidence: confidence}, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"rag-chat-be/internal/dto"
	"rag-chat-be/internal/entity"
	"rag-chat-be/internal/repository/unitofwork"
	"rag-chat-be/pkg/rag/pipeline"

	"github.com/google/uuid"
)

// IChatHistoryService is the history store used by the pipeline and the
// history REST endpoint.
type IChatHistoryService interface {
	pipeline.HistoryStore
	GetHistory(ctx context.Context, sessionKey string, limit int) ([]*dto.ChatHistoryResponse, error)
	ClearHistory(ctx context.Context, sessionKey string) error
}

type chatHistoryService struct {
	uowFactory unitofwork.RepositoryFactory
}

func NewChatHistoryService(uowFactory unitofwork.RepositoryFactory) IChatHistoryService {
	return &chatHistoryService{uowFactory: uowFactory}
}

func (s *chatHistoryService) AppendMessage(ctx context.Context, sessionKey, role, text string, ts time.Time) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	err := uow.ChatHistoryRepository().Create(ctx, &entity.ChatHistory{
		Id:         uuid.New(),
		SessionKey: sessionKey,
		Role:       role,
		Message:    text,
		Timestamp:  ts,
	})
	if err != nil {
		return fmt.Errorf("append %s message: %w", role, err)
	}
	return nil
}

func (s *chatHistoryService) RecentHistory(ctx context.Context, sessionKey string, limit int) ([]pipeline.HistoryMessage, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	rows, err := uow.ChatHistoryRepository().FindRecent(ctx, sessionKey, limit)
	if err != nil {
		return nil, err
	}

	out := make([]pipeline.HistoryMessage, len(rows))
	for i, r := range rows {
		out[i] = pipeline.HistoryMessage{Role: r.Role, Text: r.Message}
	}
	return out, nil
}

func (s *chatHistoryService) GetHistory(ctx context.Context, sessionKey string, limit int) ([]*dto.ChatHistoryResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	rows, err := uow.ChatHistoryRepository().FindRecent(ctx, sessionKey, limit)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.ChatHistoryResponse, 0, len(rows))
	for _, r := range rows {
		res = append(res, &dto.ChatHistoryResponse{
			Id:        r.Id,
			Role:      r.Role,
			Message:   r.Message,
			Timestamp: r.Timestamp,
		})
	}
	return res, nil
}

func (s *chatHistoryService) ClearHistory(ctx context.Context, sessionKey string) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.ChatHistoryRepository().DeleteBySessionKey(ctx, sessionKey)
}

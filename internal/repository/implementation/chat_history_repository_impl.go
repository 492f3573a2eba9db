package implementation

import (
	"context"
	"slices"

	"rag-chat-be/internal/entity"
	"rag-chat-be/internal/mapper"
	"rag-chat-be/internal/model"
	"rag-chat-be/internal/repository/contract"
	"rag-chat-be/internal/repository/specification"

	"gorm.io/gorm"
)

type ChatHistoryRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChatHistoryMapper
}

func NewChatHistoryRepository(db *gorm.DB) contract.ChatHistoryRepository {
	return &ChatHistoryRepositoryImpl{
		db:     db,
		mapper: mapper.NewChatHistoryMapper(),
	}
}

func (r *ChatHistoryRepositoryImpl) Create(ctx context.Context, message *entity.ChatHistory) error {
	m := r.mapper.ToModel(message)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*message = *r.mapper.ToEntity(m)
	return nil
}

func (r *ChatHistoryRepositoryImpl) FindRecent(ctx context.Context, sessionKey string, limit int) ([]*entity.ChatHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []*model.ChatHistory
	err := applySpecifications(r.db.WithContext(ctx),
		specification.BySessionKey{SessionKey: sessionKey},
		specification.OrderBy{Field: "timestamp", Desc: true},
		specification.Pagination{Limit: limit},
	).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(rows)
	return r.mapper.ToEntities(rows), nil
}

func (r *ChatHistoryRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatHistory, error) {
	var rows []*model.ChatHistory
	if err := applySpecifications(r.db.WithContext(ctx), specs...).Find(&rows).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(rows), nil
}

func (r *ChatHistoryRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := applySpecifications(r.db.WithContext(ctx).Model(&model.ChatHistory{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ChatHistoryRepositoryImpl) DeleteBySessionKey(ctx context.Context, sessionKey string) error {
	return r.db.WithContext(ctx).Where("session_key = ?", sessionKey).Delete(&model.ChatHistory{}).Error
}

package mapper

import (
	"rag-chat-be/internal/entity"
	"rag-chat-be/internal/model"
)

type ChatHistoryMapper struct{}

func NewChatHistoryMapper() *ChatHistoryMapper {
	return &ChatHistoryMapper{}
}

func (m *ChatHistoryMapper) ToEntity(h *model.ChatHistory) *entity.ChatHistory {
	if h == nil {
		return nil
	}
	return &entity.ChatHistory{
		Id:         h.Id,
		SessionKey: h.SessionKey,
		Role:       h.Role,
		Message:    h.Message,
		Meta:       metaFromJSON(h.Meta),
		Timestamp:  h.Timestamp,
	}
}

func (m *ChatHistoryMapper) ToModel(h *entity.ChatHistory) *model.ChatHistory {
	if h == nil {
		return nil
	}
	return &model.ChatHistory{
		Id:         h.Id,
		SessionKey: h.SessionKey,
		Role:       h.Role,
		Message:    h.Message,
		Meta:       metaToJSON(h.Meta),
		Timestamp:  h.Timestamp,
	}
}

func (m *ChatHistoryMapper) ToEntities(rows []*model.ChatHistory) []*entity.ChatHistory {
	entities := make([]*entity.ChatHistory, len(rows))
	for i, r := range rows {
		entities[i] = m.ToEntity(r)
	}
	return entities
}

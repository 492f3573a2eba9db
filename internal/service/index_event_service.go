package service

import (
	"context"
	"fmt"
	"strings"

	"rag-chat-be/internal/constant"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/pkg/events"
	pktNats "rag-chat-be/pkg/nats"
)

type EventSubscriber interface {
	Subscribe(ctx context.Context, subject string, handler pktNats.EventHandler) error
}

// Broadcaster reaches every session connected to this instance.
type Broadcaster interface {
	Broadcast(text string) int
}

type IIndexEventService interface {
	Listen(ctx context.Context) error
}

// indexEventService relays index changes made anywhere in the cluster to the
// sessions connected here.
type indexEventService struct {
	subscriber  EventSubscriber
	broadcaster Broadcaster
	cache       Flusher
	logger      logger.ILogger
}

func NewIndexEventService(subscriber EventSubscriber, broadcaster Broadcaster, cache Flusher, log logger.ILogger) IIndexEventService {
	return &indexEventService{
		subscriber:  subscriber,
		broadcaster: broadcaster,
		cache:       cache,
		logger:      log,
	}
}

func (s *indexEventService) Listen(ctx context.Context) error {
	if err := s.subscriber.Subscribe(ctx, pktNats.SubjectPrefix+events.TypeIndexRebuilt, s.handle); err != nil {
		return err
	}
	return s.subscriber.Subscribe(ctx, pktNats.SubjectPrefix+events.TypeIndexReset, s.handle)
}

func (s *indexEventService) handle(ctx context.Context, event events.Event) error {
	var text string
	switch event.EventType() {
	case events.TypeIndexRebuilt:
		text = fmt.Sprintf(constant.NoticeIndexRebuilt, describeSources(event.Payload()["sources"]))
	case events.TypeIndexReset:
		if s.cache != nil {
			s.cache.Flush()
		}
		text = constant.NoticeIndexReset
	default:
		return nil
	}

	n := s.broadcaster.Broadcast(text)
	s.logger.Info("INDEX_EVENTS", "Index change relayed", map[string]interface{}{
		"type":     event.EventType(),
		"sessions": n,
	})
	return nil
}

func describeSources(raw any) string {
	var names []string
	switch v := raw.(type) {
	case []string:
		names = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	}
	if len(names) == 0 {
		return "new documents"
	}
	return strings.Join(names, ", ")
}

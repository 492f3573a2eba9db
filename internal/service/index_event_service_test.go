package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"rag-chat-be/internal/constant"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/pkg/events"
	pktNats "rag-chat-be/pkg/nats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	handlers map[string]pktNats.EventHandler
	err      error
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, subject string, handler pktNats.EventHandler) error {
	if s.err != nil {
		return s.err
	}
	if s.handlers == nil {
		s.handlers = map[string]pktNats.EventHandler{}
	}
	s.handlers[subject] = handler
	return nil
}

type recordingBroadcaster struct {
	texts []string
}

func (b *recordingBroadcaster) Broadcast(text string) int {
	b.texts = append(b.texts, text)
	return 2
}

func TestIndexEventServiceRelaysEvents(t *testing.T) {
	sub := &fakeSubscriber{}
	bc := &recordingBroadcaster{}
	cache := &countingFlusher{}
	svc := NewIndexEventService(sub, bc, cache, logger.NewNopLogger())

	require.NoError(t, svc.Listen(context.Background()))
	require.Contains(t, sub.handlers, "events.INDEX_REBUILT")
	require.Contains(t, sub.handlers, "events.INDEX_RESET")

	// sources arrive as []interface{} once decoded from the wire
	rebuilt := events.BaseEvent{
		Type: events.TypeIndexRebuilt,
		Data: map[string]interface{}{"sources": []interface{}{"a.txt", "b.md"}, "version": float64(4)},
	}
	require.NoError(t, sub.handlers["events.INDEX_REBUILT"](context.Background(), rebuilt))
	require.NoError(t, sub.handlers["events.INDEX_RESET"](context.Background(), events.NewIndexResetEvent(time.Now())))

	assert.Equal(t, []string{
		"📚 Knowledge base updated: a.txt, b.md",
		constant.NoticeIndexReset,
	}, bc.texts)
	assert.Equal(t, 1, cache.flushed)
}

func TestIndexEventServiceListenError(t *testing.T) {
	svc := NewIndexEventService(&fakeSubscriber{err: errors.New("no stream")}, &recordingBroadcaster{}, nil, logger.NewNopLogger())
	assert.Error(t, svc.Listen(context.Background()))
}

func TestDescribeSources(t *testing.T) {
	assert.Equal(t, "a.txt", describeSources([]string{"a.txt"}))
	assert.Equal(t, "new documents", describeSources(nil))
	assert.Equal(t, "new documents", describeSources([]interface{}{42}))
}

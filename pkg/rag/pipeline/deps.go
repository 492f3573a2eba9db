package pipeline

import (
	"context"
	"time"

	"rag-chat-be/pkg/llm"
	"rag-chat-be/pkg/rag/knowledge"
)

type HistoryMessage struct {
	Role string
	Text string
}

type HistoryStore interface {
	AppendMessage(ctx context.Context, sessionKey, role, text string, ts time.Time) error
	// RecentHistory returns at most limit messages, oldest first.
	RecentHistory(ctx context.Context, sessionKey string, limit int) ([]HistoryMessage, error)
}

type Retriever interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]knowledge.ScoredDocument, error)
}

// ReadLocker is the shared side of rwlock.PriorityLock.
type ReadLocker interface {
	RLock(ctx context.Context) error
	RUnlock()
}

type Completer interface {
	Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error)
}

// Notifier delivers progress text to a session. Delivery is best effort.
type Notifier interface {
	Notify(sessionKey, text string) error
}

type NotifierFunc func(sessionKey, text string) error

func (f NotifierFunc) Notify(sessionKey, text string) error {
	return f(sessionKey, text)
}

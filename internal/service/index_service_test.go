package service

import (
	"context"
	"testing"

	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/pkg/rag/knowledge"
	"rag-chat-be/pkg/rwlock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFlusher struct{ flushed int }

func (f *countingFlusher) Flush() { f.flushed++ }

func TestIndexServiceReset(t *testing.T) {
	idx := &fakeIndex{docs: []knowledge.ScoredDocument{{Content: "a"}}}
	cache := &countingFlusher{}
	lock := rwlock.New()
	svc := NewIndexService(idx, lock, cache, logger.NewNopLogger())

	require.NoError(t, svc.Reset(context.Background()))

	assert.Equal(t, 1, idx.resetCalls)
	assert.Equal(t, 1, cache.flushed)
	assert.False(t, lock.State().Writing)
}

func TestIndexServiceResetWaitsForReaders(t *testing.T) {
	idx := &fakeIndex{}
	lock := rwlock.New()
	require.NoError(t, lock.RLock(context.Background()))

	svc := NewIndexService(idx, lock, nil, logger.NewNopLogger())
	done := make(chan error, 1)
	go func() { done <- svc.Reset(context.Background()) }()

	require.Eventually(t, func() bool { return lock.State().WritersWaiting == 1 }, timeout, tick)
	assert.Zero(t, idx.resetCalls)

	lock.RUnlock()
	require.NoError(t, <-done)
	assert.Equal(t, 1, idx.resetCalls)
}

func TestIndexServiceStats(t *testing.T) {
	idx := &fakeIndex{docs: []knowledge.ScoredDocument{{Content: "a"}, {Content: "b"}}}
	svc := NewIndexService(idx, rwlock.New(), nil, logger.NewNopLogger())

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Chunks)
	assert.EqualValues(t, 3, stats.Version)
	assert.Zero(t, stats.Readers)
	assert.False(t, stats.Writing)
}

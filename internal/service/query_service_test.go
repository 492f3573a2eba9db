package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"rag-chat-be/internal/constant"
	"rag-chat-be/internal/dto"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/pkg/rag/knowledge"
	"rag-chat-be/pkg/rwlock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryServiceAsk(t *testing.T) {
	tests := []struct {
		name           string
		docs           []knowledge.ScoredDocument
		searchErr      error
		modelErr       error
		wantAnswer     string
		wantConfidence float64
		wantCalls      int
	}{
		{
			name:       "empty index",
			wantAnswer: constant.QueryNoAnswer,
		},
		{
			name:       "search failure",
			searchErr:  errors.New("connection refused"),
			wantAnswer: constant.QueryNoAnswer,
		},
		{
			name: "answer with confidence",
			docs: []knowledge.ScoredDocument{
				{Content: "Paris is the capital of France.", Score: 0.9, HasScore: true},
				{Content: "France is in Europe.", Score: 0.7, HasScore: true},
			},
			wantAnswer:     "model answer",
			wantConfidence: 0.8,
			wantCalls:      1,
		},
		{
			name:           "unscored results",
			docs:           []knowledge.ScoredDocument{{Content: "x"}},
			wantAnswer:     "model answer",
			wantConfidence: 0.5,
			wantCalls:      1,
		},
		{
			name:           "model failure keeps confidence",
			docs:           []knowledge.ScoredDocument{{Content: "x", Score: 0.6, HasScore: true}},
			modelErr:       errors.New("timeout"),
			wantAnswer:     constant.QueryNoAnswer,
			wantConfidence: 0.6,
			wantCalls:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &fakeIndex{docs: tt.docs, searchErr: tt.searchErr}
			model := &fakeModel{err: tt.modelErr}
			svc := NewQueryService(idx, rwlock.New(), model, 4, logger.NewNopLogger())

			res, err := svc.Ask(context.Background(), &dto.QueryRequest{Question: "capital of France?"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantAnswer, res.Answer)
			assert.InDelta(t, tt.wantConfidence, res.Confidence, 1e-9)
			assert.Len(t, model.prompts, tt.wantCalls)
		})
	}
}

func TestQueryServicePromptCarriesContext(t *testing.T) {
	idx := &fakeIndex{docs: []knowledge.ScoredDocument{
		{Content: "first", Score: 1, HasScore: true},
		{Content: "second", Score: 1, HasScore: true},
	}}
	model := &fakeModel{}
	svc := NewQueryService(idx, rwlock.New(), model, 4, logger.NewNopLogger())

	_, err := svc.Ask(context.Background(), &dto.QueryRequest{Question: "why?"})
	require.NoError(t, err)

	require.Len(t, model.prompts, 1)
	assert.True(t, strings.HasPrefix(model.prompts[0], "Use the following context to answer the question."))
	assert.Contains(t, model.prompts[0], "first\n\nsecond")
	assert.True(t, strings.HasSuffix(model.prompts[0], "Question: why?\nAnswer:"))
}

func TestQueryServiceHonoursCancellation(t *testing.T) {
	lock := rwlock.New()
	require.NoError(t, lock.Lock(context.Background()))
	defer lock.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewQueryService(&fakeIndex{}, lock, &fakeModel{}, 4, logger.NewNopLogger())
	_, err := svc.Ask(ctx, &dto.QueryRequest{Question: "q"})
	assert.ErrorIs(t, err, context.Canceled)
}

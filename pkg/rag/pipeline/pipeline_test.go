package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"rag-chat-be/pkg/llm"
	"rag-chat-be/pkg/rag/knowledge"
	"rag-chat-be/pkg/rwlock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	docs  []knowledge.ScoredDocument
	err   error
	panic bool
	k     int
}

func (f *fakeIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]knowledge.ScoredDocument, error) {
	f.k = k
	if f.panic {
		panic("index corrupted")
	}
	return f.docs, f.err
}

type storedMessage struct {
	key, role, text string
	ts              time.Time
}

type fakeHistory struct {
	mu        sync.Mutex
	messages  []storedMessage
	appendErr error
	loadErr   error
}

func (h *fakeHistory) AppendMessage(ctx context.Context, key, role, text string, ts time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.appendErr != nil {
		return h.appendErr
	}
	h.messages = append(h.messages, storedMessage{key, role, text, ts})
	return nil
}

func (h *fakeHistory) RecentHistory(ctx context.Context, key string, limit int) ([]HistoryMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loadErr != nil {
		return nil, h.loadErr
	}
	var out []HistoryMessage
	for _, m := range h.messages {
		if m.key == key {
			out = append(out, HistoryMessage{Role: m.role, Text: m.text})
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeModel struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (m *fakeModel) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.reply == nil {
		return "ok", nil
	}
	return m.reply(prompt)
}

func (m *fakeModel) promptsWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.prompts {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *recordingNotifier) Notify(key, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return n.err
}

type fixture struct {
	index    *fakeIndex
	lock     *rwlock.PriorityLock
	history  *fakeHistory
	model    *fakeModel
	notifier *recordingNotifier
}

func newFixture() *fixture {
	return &fixture{
		index:    &fakeIndex{},
		lock:     rwlock.New(),
		history:  &fakeHistory{},
		model:    &fakeModel{},
		notifier: &recordingNotifier{},
	}
}

func (f *fixture) pipeline(cfg Config) *Pipeline {
	return New(Deps{
		Index:    f.index,
		Lock:     f.lock,
		History:  f.history,
		Model:    f.model,
		Notifier: f.notifier,
	}, cfg)
}

func scored(scores ...float64) []knowledge.ScoredDocument {
	docs := make([]knowledge.ScoredDocument, len(scores))
	for i, s := range scores {
		docs[i] = knowledge.ScoredDocument{Content: "doc" + string(rune('A'+i)), Score: s, HasScore: true}
	}
	return docs
}

func TestRunEmptyIndexFallsBack(t *testing.T) {
	f := newFixture()
	f.index.err = knowledge.ErrIndexEmpty
	f.model.reply = func(string) (string, error) { return "  hi!  ", nil }

	st := f.pipeline(ChatConfig()).Run(context.Background(), NewState("s1", "hello"))

	assert.Empty(t, st.Documents)
	assert.Equal(t, 0.0, st.Confidence)
	assert.False(t, st.UseRetrieval)
	assert.Equal(t, StageFallback, st.Route)
	assert.Equal(t, []Stage{StageRetrieve, StageDecide, StageFallback, StagePersist}, st.Visited)
	assert.Equal(t, "hi!", st.Output)
	assert.Empty(t, st.Errors)
	assert.Equal(t, 10, f.index.k)

	require.Len(t, f.history.messages, 1)
	assert.Equal(t, "Bot", f.history.messages[0].role)
	assert.Equal(t, "hi!", f.history.messages[0].text)
	assert.Contains(t, f.notifier.sent, MsgUsingFallback)
}

func TestRunConfidentRetrievalGenerates(t *testing.T) {
	f := newFixture()
	f.index.docs = scored(0.9, 0.8, 0.7)
	f.model.reply = func(p string) (string, error) {
		switch {
		case strings.HasPrefix(p, "Summarize"):
			return "chunk summary", nil
		case strings.HasPrefix(p, "Combine"):
			return "final summary", nil
		}
		return "answer", nil
	}

	st := f.pipeline(ChatConfig()).Run(context.Background(), NewState("s1", "what is in the docs?"))

	assert.Equal(t, 0.8, st.Confidence)
	assert.True(t, st.UseRetrieval)
	assert.Equal(t, StageGenerate, st.Route)
	assert.Equal(t, []string{"docA", "docB", "docC"}, st.Documents)
	assert.Equal(t, "docA\n\ndocB\n\ndocC", st.Context)
	assert.Equal(t, "final summary", st.Summary)
	assert.Equal(t, "answer", st.Output)

	gen := f.model.promptsWithPrefix("RAG Summary:")
	require.Len(t, gen, 1)
	assert.Contains(t, gen[0], "final summary")
	assert.True(t, strings.HasSuffix(gen[0], "User: what is in the docs?"))
	assert.Contains(t, f.notifier.sent, MsgUsingRetrieval)
}

func TestRouteDeterminism(t *testing.T) {
	tests := []struct {
		name       string
		context    string
		confidence float64
		want       bool
	}{
		{name: "at threshold", context: "x", confidence: 0.4, want: true},
		{name: "above threshold", context: "x", confidence: 0.95, want: true},
		{name: "below threshold", context: "x", confidence: 0.399, want: false},
		{name: "empty context", context: "", confidence: 1, want: false},
		{name: "nothing", context: "", confidence: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				assert.Equal(t, tt.want, Route(tt.context, tt.confidence))
			}
		})
	}
}

func TestMeanConfidence(t *testing.T) {
	assert.Equal(t, 0.5, MeanConfidence([]knowledge.ScoredDocument{{Content: "a"}, {Content: "b"}}))
	assert.Equal(t, 0.333, MeanConfidence(scored(0.333, 0.333, 0.334)))
	assert.Equal(t, 0.667, MeanConfidence(scored(1, 1, 0)))
}

func TestRetrievalFailureDegrades(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeIndex)
	}{
		{name: "error", setup: func(i *fakeIndex) { i.err = errors.New("connection refused") }},
		{name: "panic", setup: func(i *fakeIndex) { i.panic = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f.index)

			st := f.pipeline(ChatConfig()).Run(context.Background(), NewState("s1", "hello"))

			assert.Empty(t, st.Context)
			assert.Zero(t, st.Confidence)
			assert.Equal(t, StageFallback, st.Route)
			require.NotEmpty(t, st.Errors)
			assert.ErrorIs(t, st.Errors[0], ErrRetrieval)
			assert.Equal(t, rwlock.LockState{}, f.lock.State(), "read lock must be released")
		})
	}
}

func TestModelFailureProducesFixedText(t *testing.T) {
	t.Run("fallback", func(t *testing.T) {
		f := newFixture()
		f.model.reply = func(string) (string, error) { return "", errors.New("503") }

		st := f.pipeline(ChatConfig()).Run(context.Background(), NewState("s1", "hello"))

		assert.Equal(t, MsgFallbackFailed, st.Output)
		require.Len(t, f.history.messages, 1)
		assert.Equal(t, MsgFallbackFailed, f.history.messages[0].text)
		assert.ErrorIs(t, st.Errors[len(st.Errors)-1], ErrModel)
	})

	t.Run("generate", func(t *testing.T) {
		f := newFixture()
		f.index.docs = scored(0.9)
		f.model.reply = func(p string) (string, error) {
			if strings.HasPrefix(p, "RAG Summary:") {
				panic("model client bug")
			}
			return "s", nil
		}

		st := f.pipeline(ChatConfig()).Run(context.Background(), NewState("s1", "hello"))

		assert.Equal(t, StageGenerate, st.Route)
		assert.Equal(t, MsgGenerateFailed, st.Output)
	})
}

func TestPersistenceFailureIsSwallowed(t *testing.T) {
	f := newFixture()
	f.history.appendErr = errors.New("db down")
	f.model.reply = func(string) (string, error) { return "still answered", nil }

	st := f.pipeline(ChatConfig()).Run(context.Background(), NewState("s1", "hello"))

	assert.Equal(t, "still answered", st.Output)
	require.Len(t, st.Errors, 1)
	assert.ErrorIs(t, st.Errors[0], ErrPersistence)
}

func TestHistoryIsPartOfPrompt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.history.AppendMessage(ctx, "s1", "User", "my name is Ada", time.Now()))
	require.NoError(t, f.history.AppendMessage(ctx, "s1", "Bot", "nice to meet you", time.Now()))
	require.NoError(t, f.history.AppendMessage(ctx, "other", "User", "unrelated", time.Now()))

	f.pipeline(ChatConfig()).Run(ctx, NewState("s1", "what is my name?"))

	require.Len(t, f.model.prompts, 1)
	assert.Equal(t, "User: my name is Ada\nBot: nice to meet you\nUser: what is my name?", f.model.prompts[0])
}

func TestLowConfidenceFallbackCarriesSummary(t *testing.T) {
	f := newFixture()
	f.index.docs = scored(0.1, 0.2)
	f.model.reply = func(p string) (string, error) {
		if strings.HasPrefix(p, "Combine") {
			return "weak summary", nil
		}
		return "x", nil
	}

	st := f.pipeline(ChatConfig()).Run(context.Background(), NewState("s1", "hello"))

	assert.Equal(t, StageFallback, st.Route)
	last := f.model.prompts[len(f.model.prompts)-1]
	assert.Equal(t, "\n\n[Uploaded File Summary]:\nweak summary\nUser: hello", last)
}

func TestChunkedSummaries(t *testing.T) {
	f := newFixture()
	f.index.docs = []knowledge.ScoredDocument{{Content: strings.Repeat("a", 4500), Score: 0.9, HasScore: true}}
	var chunkCalls int
	var mu sync.Mutex
	f.model.reply = func(p string) (string, error) {
		switch {
		case strings.HasPrefix(p, "Summarize"):
			mu.Lock()
			defer mu.Unlock()
			chunkCalls++
			if chunkCalls == 2 {
				return "", errors.New("timeout")
			}
			return "part", nil
		case strings.HasPrefix(p, "Combine"):
			return "", errors.New("rate limited")
		}
		return "answer", nil
	}

	st := f.pipeline(ChatConfig()).Summarize(context.Background(), NewState("s1", "upload"))

	assert.Equal(t, 3, chunkCalls)
	assert.Equal(t, "part\n\npart", st.Summary, "failed chunk is empty and combine falls back to the joined summaries")
	assert.Equal(t, []Stage{StageRetrieve, StageDecide}, st.Visited)
	assert.Empty(t, f.history.messages)
	assert.Empty(t, st.Output)

	assert.Equal(t, []string{
		"⏳ Summarizing chunk 1/3...",
		"⏳ Summarizing chunk 2/3...",
		"⏳ Summarizing chunk 3/3...",
		MsgUsingRetrieval,
	}, f.notifier.sent)
}

func TestConcurrentChunkSummariesKeepOrder(t *testing.T) {
	f := newFixture()
	f.index.docs = []knowledge.ScoredDocument{{Content: strings.Repeat("a", 10) + strings.Repeat("b", 10) + strings.Repeat("c", 10), Score: 1, HasScore: true}}
	f.model.reply = func(p string) (string, error) {
		if strings.HasPrefix(p, "Summarize") {
			body := strings.TrimPrefix(p, "Summarize the following document excerpt briefly:\n")
			return body[:1], nil
		}
		return "", errors.New("no combine")
	}

	st := f.pipeline(Config{ChunkSize: 10, SummaryConcurrency: 3}).Summarize(context.Background(), NewState("s1", "q"))

	assert.Equal(t, "a\n\nb\n\nc", st.Summary)
}

func TestNotifierFailureDoesNotFailStages(t *testing.T) {
	f := newFixture()
	f.notifier.err = errors.New("socket closed")
	f.index.docs = scored(0.9)

	st := f.pipeline(ChatConfig()).Run(context.Background(), NewState("s1", "hello"))

	assert.Empty(t, st.Errors)
	assert.Equal(t, "ok", st.Output)
	assert.Len(t, f.history.messages, 1)
}

func TestReadLockReleasedBeforeModelCalls(t *testing.T) {
	f := newFixture()
	f.index.docs = scored(0.9)
	var heldDuringModel bool
	f.model.reply = func(string) (string, error) {
		if f.lock.State().Readers > 0 {
			heldDuringModel = true
		}
		return "ok", nil
	}

	f.pipeline(ChatConfig()).Run(context.Background(), NewState("s1", "hello"))

	assert.False(t, heldDuringModel)
}

func TestRetrieveWaitsForWriter(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.lock.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	st := f.pipeline(ChatConfig()).Summarize(ctx, NewState("s1", "hello"))

	require.NotEmpty(t, st.Errors)
	assert.ErrorIs(t, st.Errors[0], ErrRetrieval)
	assert.ErrorIs(t, st.Errors[0], context.DeadlineExceeded)
	f.lock.Unlock()
}

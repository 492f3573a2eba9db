package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rag-chat-be/internal/entity"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/internal/repository/contract"
	"rag-chat-be/internal/repository/specification"
	"rag-chat-be/internal/repository/unitofwork"
	"rag-chat-be/internal/session"
	"rag-chat-be/pkg/embedding"
	"rag-chat-be/pkg/llm"
	"rag-chat-be/pkg/rag/knowledge"
	"rag-chat-be/pkg/rag/pipeline"
	"rag-chat-be/pkg/rwlock"

	"github.com/google/uuid"
)

const (
	timeout = time.Second
	tick    = time.Millisecond
)

// --- repositories ---

type fakeHistoryRepo struct {
	mu        sync.Mutex
	rows      []*entity.ChatHistory
	createErr error
	findErr   error
}

func (r *fakeHistoryRepo) Create(ctx context.Context, m *entity.ChatHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *m
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *fakeHistoryRepo) FindRecent(ctx context.Context, sessionKey string, limit int) ([]*entity.ChatHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []*entity.ChatHistory
	for _, m := range r.rows {
		if m.SessionKey == sessionKey {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *fakeHistoryRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatHistory, error) {
	return nil, nil
}

func (r *fakeHistoryRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	return 0, nil
}

func (r *fakeHistoryRepo) DeleteBySessionKey(ctx context.Context, sessionKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	for _, m := range r.rows {
		if m.SessionKey != sessionKey {
			kept = append(kept, m)
		}
	}
	r.rows = kept
	return nil
}

func (r *fakeHistoryRepo) messages(sessionKey string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.rows {
		if m.SessionKey == sessionKey {
			out = append(out, m.Role+": "+m.Message)
		}
	}
	return out
}

type fakeUploadRepo struct {
	mu        sync.Mutex
	files     map[uuid.UUID]*entity.UploadedFile
	createErr error
}

func newFakeUploadRepo() *fakeUploadRepo {
	return &fakeUploadRepo{files: map[uuid.UUID]*entity.UploadedFile{}}
}

func (r *fakeUploadRepo) Create(ctx context.Context, f *entity.UploadedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *f
	r.files[f.Id] = &cp
	return nil
}

func (r *fakeUploadRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string, meta map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return errors.New("no such upload")
	}
	f.Status = status
	f.Meta = meta
	return nil
}

func (r *fakeUploadRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.UploadedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range specs {
		if byID, ok := s.(specification.ByID); ok {
			if f, ok := r.files[byID.ID]; ok {
				cp := *f
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (r *fakeUploadRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.UploadedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.UploadedFile
	for _, f := range r.files {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeUploadRepo) only() *entity.UploadedFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		cp := *f
		return &cp
	}
	return nil
}

type memoryChunkRepo struct {
	mu     sync.Mutex
	stored []*entity.DocumentChunk
}

func (r *memoryChunkRepo) CreateBulk(ctx context.Context, chunks []*entity.DocumentChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = append(r.stored, chunks...)
	return nil
}

func (r *memoryChunkRepo) SearchSimilarWithScore(ctx context.Context, vec []float32, limit int) ([]*entity.ScoredDocumentChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.ScoredDocumentChunk
	for _, c := range r.stored {
		if len(out) == limit {
			break
		}
		out = append(out, &entity.ScoredDocumentChunk{Chunk: c, Similarity: 0.9})
	}
	return out, nil
}

func (r *memoryChunkRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DocumentChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.DocumentChunk(nil), r.stored...), nil
}

func (r *memoryChunkRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.stored)), nil
}

func (r *memoryChunkRepo) CountSources(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	for _, c := range r.stored {
		seen[c.Source] = true
	}
	return int64(len(seen)), nil
}

func (r *memoryChunkRepo) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = nil
	return nil
}

type constantEmbedder struct{}

func (constantEmbedder) Generate(ctx context.Context, text, taskType string) (*embedding.EmbeddingResponse, error) {
	return &embedding.EmbeddingResponse{Embedding: embedding.EmbeddingResponseEmbedding{Values: []float32{1, 0}}}, nil
}

type fakeUoW struct {
	history *fakeHistoryRepo
	uploads *fakeUploadRepo
	chunks  *memoryChunkRepo
}

func (u *fakeUoW) Begin(ctx context.Context) error { return nil }
func (u *fakeUoW) Commit() error                   { return nil }
func (u *fakeUoW) Rollback() error                 { return nil }
func (u *fakeUoW) ChatHistoryRepository() contract.ChatHistoryRepository {
	return u.history
}
func (u *fakeUoW) DocumentChunkRepository() contract.DocumentChunkRepository {
	return u.chunks
}
func (u *fakeUoW) UploadedFileRepository() contract.UploadedFileRepository {
	return u.uploads
}

type fakeFactory struct {
	history *fakeHistoryRepo
	uploads *fakeUploadRepo
	chunks  *memoryChunkRepo
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{history: &fakeHistoryRepo{}, uploads: newFakeUploadRepo(), chunks: &memoryChunkRepo{}}
}

func (f *fakeFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return &fakeUoW{history: f.history, uploads: f.uploads, chunks: f.chunks}
}

// --- knowledge index ---

type fakeIndex struct {
	mu           sync.Mutex
	docs         []knowledge.ScoredDocument
	searchErr    error
	rebuildErr   error
	rebuildPanic bool
	resetCalls   int

	// searchGate, when set, holds every search until closed.
	searchGate chan struct{}
	searching  atomic.Int32

	// rebuildGate, when set, holds every rebuild until closed.
	rebuildGate    chan struct{}
	rebuildStarted chan struct{}
	rebuilt        []string
	contents       []string
}

func (f *fakeIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]knowledge.ScoredDocument, error) {
	f.searching.Add(1)
	defer f.searching.Add(-1)
	if f.searchGate != nil {
		<-f.searchGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.docs) == 0 {
		return nil, knowledge.ErrIndexEmpty
	}
	if len(f.docs) > k {
		return append([]knowledge.ScoredDocument(nil), f.docs[:k]...), nil
	}
	return append([]knowledge.ScoredDocument(nil), f.docs...), nil
}

func (f *fakeIndex) RebuildOrExtend(ctx context.Context, paths []string) error {
	if f.rebuildStarted != nil {
		close(f.rebuildStarted)
	}
	if f.rebuildGate != nil {
		<-f.rebuildGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		f.rebuilt = append(f.rebuilt, p)
		if raw, err := readFileString(p); err == nil {
			f.contents = append(f.contents, raw)
		}
	}
	if f.rebuildPanic {
		panic("vector store exploded")
	}
	if f.rebuildErr != nil {
		return f.rebuildErr
	}
	f.docs = append(f.docs, knowledge.ScoredDocument{Content: "indexed upload", Score: 0.9, HasScore: true})
	return nil
}

func (f *fakeIndex) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	f.docs = nil
	return nil
}

func (f *fakeIndex) Stats(ctx context.Context) (*knowledge.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &knowledge.Stats{Chunks: int64(len(f.docs)), Sources: 1, Version: 3}, nil
}

// --- model ---

type fakeModel struct {
	mu      sync.Mutex
	prompts []string
	err     error
	reply   func(prompt string) string
}

func (m *fakeModel) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.reply != nil {
		return m.reply(prompt), nil
	}
	switch {
	case strings.HasPrefix(prompt, "Summarize the following"):
		return "chunk summary", nil
	case strings.HasPrefix(prompt, "Combine the following"):
		return "combined summary", nil
	}
	return "model answer", nil
}

func (m *fakeModel) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	return m.Generate(ctx, history[len(history)-1].Content, options...)
}

// --- transport ---

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
	fail func(text string) error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: map[string][]string{}}
}

func (n *recordingNotifier) Notify(key, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		if err := n.fail(text); err != nil {
			return err
		}
	}
	n.sent[key] = append(n.sent[key], text)
	return nil
}

func (n *recordingNotifier) messages(key string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent[key]...)
}

type fakeConn struct {
	closed atomic.Int32
}

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

// --- wiring ---

type sessionFixture struct {
	svc      IChatSessionService
	registry *session.Registry
	lock     *rwlock.PriorityLock
	index    *fakeIndex
	model    *fakeModel
	notifier *recordingNotifier
	factory  *fakeFactory
	dir      string
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	fi := &fakeIndex{}
	return buildSessionFixture(t, fi, fi, newFakeFactory())
}

// newVectorSessionFixture runs uploads through a real VectorIndex backed by
// in-memory chunk storage.
func newVectorSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	factory := newFakeFactory()
	idx := knowledge.NewVectorIndex(factory, constantEmbedder{}, logger.NewNopLogger())
	return buildSessionFixture(t, nil, idx, factory)
}

func buildSessionFixture(t *testing.T, fi *fakeIndex, idx knowledge.Index, factory *fakeFactory) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		registry: session.NewRegistry(),
		lock:     rwlock.New(),
		index:    fi,
		model:    &fakeModel{},
		notifier: newRecordingNotifier(),
		factory:  factory,
		dir:      t.TempDir(),
	}
	log := logger.NewNopLogger()
	history := NewChatHistoryService(f.factory)
	uploads := NewUploadService(f.factory, nil, f.dir, log)

	p := pipeline.New(pipeline.Deps{
		Index:    idx,
		Lock:     f.lock,
		History:  history,
		Model:    f.model,
		Notifier: f.notifier,
		Logger:   log,
	}, pipeline.ChatConfig())

	f.svc = NewChatSessionService(f.registry, f.notifier, f.lock, idx, p, history, uploads, f.dir, log)
	return f
}

func readFileString(path string) (string, error) {
	raw, err := os.ReadFile(path)
	return string(raw), err
}

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}

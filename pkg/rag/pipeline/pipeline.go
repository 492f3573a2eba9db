package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"rag-chat-be/internal/constant"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/pkg/rag/knowledge"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ConfidenceThreshold is the minimum mean similarity that routes a request to Generate.
const ConfidenceThreshold = 0.4

// defaultScore stands in for results that carry no similarity score.
const defaultScore = 0.5

type Config struct {
	TopK               int
	HistoryLimit       int
	ChunkSize          int
	SummaryConcurrency int
}

func ChatConfig() Config {
	return Config{TopK: 10, HistoryLimit: 100, ChunkSize: 2000, SummaryConcurrency: 1}
}

type Deps struct {
	Index    Retriever
	Lock     ReadLocker
	History  HistoryStore
	Model    Completer
	Notifier Notifier
	Logger   logger.ILogger
}

type Pipeline struct {
	deps   Deps
	cfg    Config
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

func New(deps Deps, cfg Config, opts ...Option) *Pipeline {
	def := ChatConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.SummaryConcurrency <= 0 {
		cfg.SummaryConcurrency = def.SummaryConcurrency
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}

	p := &Pipeline{
		deps:   deps,
		cfg:    cfg,
		tracer: otel.Tracer("rag-chat-be/pipeline"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run drives the full machine: Retrieve, Decide, Generate or Fallback, Persist.
func (p *Pipeline) Run(ctx context.Context, st *State) *State {
	return p.run(ctx, st, StageDone)
}

// Summarize stops after Decide. Used to describe freshly uploaded content.
func (p *Pipeline) Summarize(ctx context.Context, st *State) *State {
	return p.run(ctx, st, StageDecide)
}

func (p *Pipeline) run(ctx context.Context, st *State, last Stage) *State {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("session.key", st.SessionKey),
	))
	defer span.End()

	stage := StageRetrieve
	for stage != StageDone {
		st.Visited = append(st.Visited, stage)
		next := p.step(ctx, stage, st)
		if stage == last {
			break
		}
		stage = next
	}

	span.SetAttributes(
		attribute.String("pipeline.route", string(st.Route)),
		attribute.Float64("pipeline.confidence", st.Confidence),
		attribute.Int("pipeline.errors", len(st.Errors)),
	)
	return st
}

func (p *Pipeline) step(ctx context.Context, stage Stage, st *State) Stage {
	ctx, span := p.tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()
	failures := len(st.Errors)

	var next Stage
	switch stage {
	case StageRetrieve:
		p.retrieve(ctx, st)
		next = StageDecide
	case StageDecide:
		next = p.decide(st)
	case StageGenerate:
		p.generate(ctx, st)
		next = StagePersist
	case StageFallback:
		p.fallback(ctx, st)
		next = StagePersist
	case StagePersist:
		p.persist(ctx, st)
		next = StageDone
	default:
		next = StageDone
	}

	if len(st.Errors) > failures {
		span.SetStatus(codes.Error, st.Errors[len(st.Errors)-1].Error())
	}
	return next
}

func (p *Pipeline) retrieve(ctx context.Context, st *State) {
	st.Documents = nil
	st.Context = ""
	st.Confidence = 0
	st.Summary = ""

	defer func() {
		if r := recover(); r != nil {
			st.Documents, st.Context, st.Confidence, st.Summary = nil, "", 0, ""
			st.fail(fmt.Errorf("%w: panic: %v", ErrRetrieval, r))
			p.deps.Logger.Error("PIPELINE", "Retrieve panicked", map[string]interface{}{"session_key": st.SessionKey, "panic": fmt.Sprint(r)})
		}
	}()

	docs, err := p.search(ctx, st.Input)
	if err != nil {
		if errors.Is(err, knowledge.ErrIndexEmpty) {
			p.deps.Logger.Debug("PIPELINE", "Knowledge index is empty", map[string]interface{}{"session_key": st.SessionKey})
			return
		}
		st.fail(fmt.Errorf("%w: %w", ErrRetrieval, err))
		p.deps.Logger.Warn("PIPELINE", "Retrieval degraded", map[string]interface{}{"session_key": st.SessionKey, "error": err.Error()})
		return
	}
	if len(docs) == 0 {
		return
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	st.Documents = texts
	st.Context = strings.Join(texts, "\n\n")
	st.Confidence = MeanConfidence(docs)

	p.deps.Logger.Info("PIPELINE", "Retrieved documents", map[string]interface{}{
		"session_key": st.SessionKey,
		"documents":   len(docs),
		"confidence":  st.Confidence,
	})

	st.Summary = p.summarize(ctx, st.SessionKey, st.Context)
}

// search holds the read lock only for the index query itself.
func (p *Pipeline) search(ctx context.Context, query string) ([]knowledge.ScoredDocument, error) {
	if err := p.deps.Lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer p.deps.Lock.RUnlock()
	return p.deps.Index.SimilaritySearch(ctx, query, p.cfg.TopK)
}

// MeanConfidence averages the scored results, rounded to 3 decimals.
func MeanConfidence(docs []knowledge.ScoredDocument) float64 {
	var sum float64
	var n int
	for _, d := range docs {
		if d.HasScore {
			sum += d.Score
			n++
		}
	}
	if n == 0 {
		return defaultScore
	}
	return math.Round(sum/float64(n)*1000) / 1000
}

func (p *Pipeline) decide(st *State) Stage {
	st.UseRetrieval = Route(st.Context, st.Confidence)
	if st.UseRetrieval {
		st.Route = StageGenerate
		p.notify(st.SessionKey, MsgUsingRetrieval)
	} else {
		st.Route = StageFallback
		p.notify(st.SessionKey, MsgUsingFallback)
	}
	p.deps.Logger.Debug("PIPELINE", "Route decided", map[string]interface{}{"session_key": st.SessionKey, "route": st.Route})
	return st.Route
}

// Route reports whether retrieved context is good enough to answer from.
func Route(retrieved string, confidence float64) bool {
	return retrieved != "" && confidence >= ConfidenceThreshold
}

func (p *Pipeline) generate(ctx context.Context, st *State) {
	conversation := p.conversation(ctx, st)
	out, err := p.complete(ctx, retrievalPrompt(st.Summary, conversation, st.Input))
	if err != nil {
		st.fail(err)
		p.deps.Logger.Warn("PIPELINE", "Generate failed", map[string]interface{}{"session_key": st.SessionKey, "error": err.Error()})
		st.Output = MsgGenerateFailed
		return
	}
	st.Output = out
}

func (p *Pipeline) fallback(ctx context.Context, st *State) {
	conversation := p.conversation(ctx, st)
	out, err := p.complete(ctx, fallbackPrompt(conversation, st.Summary, st.Input))
	if err != nil {
		st.fail(err)
		p.deps.Logger.Warn("PIPELINE", "Fallback failed", map[string]interface{}{"session_key": st.SessionKey, "error": err.Error()})
		st.Output = MsgFallbackFailed
		return
	}
	st.Output = out
}

func (p *Pipeline) conversation(ctx context.Context, st *State) string {
	history, err := p.deps.History.RecentHistory(ctx, st.SessionKey, p.cfg.HistoryLimit)
	if err != nil {
		st.fail(fmt.Errorf("%w: load history: %w", ErrPersistence, err))
		p.deps.Logger.Warn("PIPELINE", "History unavailable, continuing without it", map[string]interface{}{"session_key": st.SessionKey, "error": err.Error()})
		return ""
	}
	return formatConversation(history)
}

func (p *Pipeline) persist(ctx context.Context, st *State) {
	err := p.deps.History.AppendMessage(ctx, st.SessionKey, constant.ChatRoleBot, st.Output, p.now().UTC())
	if err != nil {
		st.fail(fmt.Errorf("%w: %w", ErrPersistence, err))
		p.deps.Logger.Error("PIPELINE", "Failed to persist bot message", map[string]interface{}{"session_key": st.SessionKey, "error": err})
	}
}

// complete makes one model call and never panics.
func (p *Pipeline) complete(ctx context.Context, prompt string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("%w: panic: %v", ErrModel, r)
		}
	}()
	out, err = p.deps.Model.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrModel, err)
	}
	return strings.TrimSpace(out), nil
}

// notify never fails the caller. Delivery errors and panics are logged at debug level.
func (p *Pipeline) notify(sessionKey, text string) {
	if p.deps.Notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.deps.Logger.Debug("PIPELINE", "Notifier panicked", map[string]interface{}{"session_key": sessionKey, "panic": fmt.Sprint(r)})
		}
	}()
	if err := p.deps.Notifier.Notify(sessionKey, text); err != nil {
		p.deps.Logger.Debug("PIPELINE", "Notification dropped", map[string]interface{}{"session_key": sessionKey, "error": err.Error()})
	}
}

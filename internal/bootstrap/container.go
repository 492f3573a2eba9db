package bootstrap

import (
	"context"
	"log"
	"time"

	"rag-chat-be/internal/config"
	"rag-chat-be/internal/controller"
	"rag-chat-be/internal/handler"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/internal/repository/memory"
	"rag-chat-be/internal/repository/unitofwork"
	"rag-chat-be/internal/service"
	"rag-chat-be/internal/session"
	"rag-chat-be/internal/websocket"
	"rag-chat-be/pkg/embedding"
	"rag-chat-be/pkg/embedding/jina"
	"rag-chat-be/pkg/llm/factory"
	"rag-chat-be/pkg/rag/knowledge"
	"rag-chat-be/pkg/rag/pipeline"
	"rag-chat-be/pkg/rwlock"

	pktNats "rag-chat-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const embeddingCacheTTL = 30 * time.Minute

type Container struct {
	// Controllers
	RagController  controller.IRagController
	ChatController controller.IChatController

	// WebSockets & Sessions
	SessionHandler *handler.SessionHandler
	WebSocketHub   *websocket.Hub
	Registry       *session.Registry
	Supervisor     *session.Supervisor

	// Services used directly by cmd/ragctl
	QueryService service.IQueryService
	IndexService service.IIndexService

	// Background Services (Exposed for main.go to run)
	ConsumerService   service.IConsumerService
	IndexEventService service.IIndexEventService // nil when NATS is unreachable

	Logger logger.ILogger

	closers []func()
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	sessionLogger := logger.NewIsolatedLogger(cfg.App.SessionLogFilePath)

	c := &Container{Logger: sysLogger}

	// 2. Job queue for REST uploads
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	// 3. Infrastructure
	// NATS
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	} else {
		c.closers = append(c.closers, natsPub.Close)
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL, sysLogger)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
	} else {
		c.closers = append(c.closers, natsSub.Close)
	}

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	opt.ContextTimeoutEnabled = true
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}
	c.closers = append(c.closers, func() { _ = rdb.Close() })

	// 4. AI providers
	embeddingCache := memory.NewEmbeddingCache(embeddingCacheTTL)
	embeddingProvider := embedding.NewCachedProvider(newEmbeddingProvider(cfg), embeddingCache)

	llmBaseURL := cfg.Ai.LLMBaseURL
	if llmBaseURL == "" && cfg.Ai.LLMProvider == "ollama" {
		llmBaseURL = cfg.Ai.OllamaBaseURL
	}
	llmKey := cfg.Keys.HuggingFace
	if cfg.Ai.LLMProvider == "gemini" {
		llmKey = cfg.Keys.GoogleGemini
	}
	llmProvider, err := factory.NewLLMProvider(
		cfg.Ai.LLMProvider,
		cfg.Ai.LLMModel,
		llmBaseURL,
		llmKey,
	)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	// 5. Knowledge index and its lock
	indexOpts := []knowledge.Option{knowledge.WithMarker(knowledge.NewRedisMarker(rdb))}
	if natsPub != nil {
		indexOpts = append(indexOpts, knowledge.WithPublisher(natsPub))
	}
	index := knowledge.NewVectorIndex(uowFactory, embeddingProvider, sysLogger, indexOpts...)
	indexLock := rwlock.New()

	// 6. Sessions
	c.Registry = session.NewRegistry()
	c.WebSocketHub = websocket.NewHub(c.Registry, rdb, sessionLogger)
	c.Supervisor = session.NewSupervisor(c.Registry, c.WebSocketHub.Local(), sessionLogger, session.SupervisorConfig{
		IdleTimeout:     cfg.Session.IdleTimeout,
		WarningWindow:   cfg.Session.WarningWindow,
		WarningInterval: cfg.Session.WarningInterval,
		TickInterval:    cfg.Session.TickInterval,
	})

	// 7. Services
	historyService := service.NewChatHistoryService(uowFactory)
	publisherService := service.NewPublisherService(cfg.App.IngestTopic, pubSub)
	uploadService := service.NewUploadService(uowFactory, publisherService, cfg.App.UploadDir, sysLogger)

	chatPipeline := pipeline.New(pipeline.Deps{
		Index:    index,
		Lock:     indexLock,
		History:  historyService,
		Model:    llmProvider,
		Notifier: c.WebSocketHub,
		Logger:   sessionLogger,
	}, pipeline.Config{
		TopK:               cfg.Rag.ChatTopK,
		HistoryLimit:       cfg.Rag.HistoryLimit,
		SummaryConcurrency: cfg.Rag.SummaryConcurrency,
	})

	chatSessionService := service.NewChatSessionService(
		c.Registry,
		c.WebSocketHub,
		indexLock,
		index,
		chatPipeline,
		historyService,
		uploadService,
		cfg.App.UploadDir,
		sessionLogger,
	)

	c.QueryService = service.NewQueryService(index, indexLock, llmProvider, cfg.Rag.QueryTopK, sysLogger)
	c.IndexService = service.NewIndexService(index, indexLock, embeddingCache, sysLogger)
	c.ConsumerService = service.NewConsumerService(pubSub, cfg.App.IngestTopic, index, indexLock, uploadService, sysLogger)
	if natsSub != nil {
		c.IndexEventService = service.NewIndexEventService(natsSub, c.WebSocketHub, embeddingCache, sysLogger)
	}

	// 8. Controllers & Handlers
	c.SessionHandler = handler.NewSessionHandler(chatSessionService, sessionLogger)
	c.RagController = controller.NewRagController(c.QueryService, c.IndexService, uploadService)
	c.ChatController = controller.NewChatController(historyService)

	return c
}

func newEmbeddingProvider(cfg *config.Config) embedding.EmbeddingProvider {
	switch cfg.Ai.EmbeddingProvider {
	case "ollama":
		log.Printf("[INFO] Using Embedding Provider: OLLAMA (%s)", cfg.Ai.OllamaModel)
		return embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.OllamaModel)
	case "jina":
		log.Printf("[INFO] Using Embedding Provider: JINA AI")
		return jina.NewJinaProvider(cfg.Keys.Jina)
	default:
		log.Printf("[INFO] Using Embedding Provider: GEMINI")
		return embedding.NewGeminiProvider(cfg.Keys.GoogleGemini)
	}
}

// Close releases broker and cache connections, newest first.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

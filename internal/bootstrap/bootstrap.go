package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	mcpadapter "github.com/kirillkom/doc-qa-assistant/internal/adapters/mcp"
	"github.com/kirillkom/doc-qa-assistant/internal/config"
	"github.com/kirillkom/doc-qa-assistant/internal/core/ports"
	"github.com/kirillkom/doc-qa-assistant/internal/core/usecase"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/cache/memory"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/cache/redis"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/rerank/tei"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/websearch"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/workerpool"
	"github.com/kirillkom/doc-qa-assistant/internal/observability/metrics"
)

// Check is a named readiness check.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// App is the API process resource bundle, built once at startup and shared
// by every request.
type App struct {
	Config config.Config

	Answers ports.AnswerService
	Metrics *metrics.HTTPServerMetrics
	MCP     http.Handler
	Checks  []Check

	closers []func(ctx context.Context)
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Metrics: metrics.NewHTTPServerMetrics("api")}
	defer func() {
		if err != nil {
			app.Close(context.Background())
		}
	}()

	executor := resilience.NewExecutor(resilienceConfig(cfg), logger, app.Metrics)

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func(context.Context) { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	conversations := postgres.NewConversationRepository(db)

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		QueueGroup:         cfg.NATSQueueGroup,
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.onClose(func(context.Context) { queue.Close() })

	pool, err := workerpool.New(cfg.WorkerPoolSize, logger)
	if err != nil {
		return nil, fmt.Errorf("init worker pool: %w", err)
	}
	app.onClose(func(ctx context.Context) {
		if err := pool.Close(ctx); err != nil {
			logger.Warn("worker_pool_close_failed", "error", err)
		}
	})

	ollamaClient := ollama.New(ollama.Options{
		BaseURL:    cfg.OllamaURL,
		GenModel:   cfg.OllamaGenModel,
		EmbedModel: cfg.OllamaEmbedModel,
		APIKeys:    cfg.OllamaAPIKeys,
		Timeout:    cfg.OllamaTimeout,
		Executor:   executor,
	})
	classifierTemperature := 0.0
	embedder := ollama.NewEmbedder(ollamaClient)
	classifierLLM := ollama.NewGenerator(ollamaClient, ollama.GeneratorOptions{JSONFormat: true, Temperature: &classifierTemperature})
	answerLLM := ollama.NewGenerator(ollamaClient, ollama.GeneratorOptions{})

	vectorDB := qdrant.New(qdrant.Options{
		BaseURL:        cfg.QdrantURL,
		Collection:     cfg.QdrantCollection,
		APIKey:         cfg.QdrantAPIKey,
		ScoreThreshold: cfg.QdrantScoreThreshold,
		Executor:       executor,
	})
	crossEncoder := tei.New(tei.Options{
		BaseURL:  cfg.RerankerURL,
		APIKey:   cfg.RerankerAPIKey,
		Timeout:  cfg.RerankerTimeout,
		Executor: executor,
	})
	webSearch, err := websearch.New(websearch.Options{
		Provider:   cfg.WebSearchProvider,
		Endpoint:   cfg.WebSearchEndpoint,
		APIKey:     cfg.WebSearchAPIKey,
		MaxResults: cfg.WebSearchMaxResults,
		Timeout:    cfg.WebSearchTimeout,
		Executor:   executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init web search: %w", err)
	}

	fallbackCache, err := newFallbackCache(ctx, cfg, logger, app)
	if err != nil {
		return nil, err
	}

	dictionary, err := normalizerDictionary(cfg)
	if err != nil {
		return nil, err
	}

	classifier := usecase.NewLLMIntentClassifier(usecase.NewQueryNormalizer(dictionary), classifierLLM, cfg.RAGHistoryTurns, logger)
	retriever := usecase.NewRetrievalEngine(embedder, vectorDB, pool)
	reranker := usecase.NewReranker(crossEncoder, pool, usecase.RerankerOptions{
		BatchSize: cfg.RerankBatchSize,
		Workers:   cfg.RerankWorkers,
	}, logger)
	fallback := usecase.NewFallbackSearchController(webSearch, fallbackCache,
		usecase.NewSlidingWindowLimiter(cfg.FallbackMaxCallsPerMin, time.Minute),
		usecase.FallbackOptions{
			CacheTTL:          cfg.FallbackCacheTTL,
			MaxCallsPerMinute: cfg.FallbackMaxCallsPerMin,
			MaxQueryChars:     cfg.FallbackMaxQueryChars,
			MaxContentChars:   cfg.FallbackMaxContentChars,
		}, app.Metrics, logger)

	orchestrator := usecase.NewOrchestrator(classifier, retriever, reranker, fallback, answerLLM, queue, app.Metrics,
		usecase.OrchestratorOptions{
			TopK:             cfg.RAGTopK,
			RerankTopN:       cfg.RAGRerankTopN,
			ContextTopM:      cfg.RAGContextTopM,
			HistoryTurns:     cfg.RAGHistoryTurns,
			FallbackMinScore: cfg.RAGFallbackMinScore,
			AuditTimeout:     cfg.AuditPublishTimeout,
		}, logger)
	app.Answers = usecase.NewConversationalAnswerer(orchestrator, conversations, cfg.RAGHistoryTurns, logger)

	if cfg.MCPEnabled {
		app.MCP = mcpadapter.NewServer(app.Answers, logger).HTTPHandler()
	}

	app.Checks = []Check{
		{Name: "postgres", Fn: db.PingContext},
		{Name: "nats", Fn: queue.CheckConnected},
		{Name: "qdrant", Fn: vectorDB.CheckCollection},
	}
	return app, nil
}

// Close releases resources in reverse construction order.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

func (a *App) onClose(fn func(ctx context.Context)) {
	a.closers = append(a.closers, fn)
}

// WorkerApp is the audit worker resource bundle.
type WorkerApp struct {
	Config config.Config

	Queue    ports.AuditSubscriber
	Recorder ports.AuditRecorder
	Metrics  *metrics.WorkerMetrics

	db    *sql.DB
	queue *nats.Queue
}

func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*WorkerApp, error) {
	if logger == nil {
		logger = slog.Default()
	}
	workerMetrics := metrics.NewWorkerMetrics("worker")
	executor := resilience.NewExecutor(resilienceConfig(cfg), logger, workerMetrics)

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		QueueGroup:         cfg.NATSQueueGroup,
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	return &WorkerApp{
		Config:   cfg,
		Queue:    queue,
		Recorder: usecase.NewAuditRecorder(postgres.NewAuditRepository(db), workerMetrics, logger),
		Metrics:  workerMetrics,
		db:       db,
		queue:    queue,
	}, nil
}

func (w *WorkerApp) Close() {
	w.queue.Close()
	_ = w.db.Close()
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	if cfg.ResilienceMaxAttempts > 0 {
		out.RetryMaxAttempts = cfg.ResilienceMaxAttempts
	}
	out.OperationAttempts = cfg.ResilienceOperationAttempts
	out.BreakerEnabled = cfg.BreakerEnabled
	return out
}

func newFallbackCache(ctx context.Context, cfg config.Config, logger *slog.Logger, app *App) (ports.FallbackCache, error) {
	switch cfg.FallbackCacheBackend {
	case "redis":
		cache, err := redis.New(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.FallbackCacheTTL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init redis fallback cache: %w", err)
		}
		app.onClose(func(context.Context) { _ = cache.Close() })
		return cache, nil
	case "", "memory":
		return memory.NewLRU(cfg.FallbackCacheCapacity, cfg.FallbackCacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown fallback cache backend %q", cfg.FallbackCacheBackend)
	}
}

func normalizerDictionary(cfg config.Config) (map[string]string, error) {
	dictionary := usecase.DefaultNormalizerDictionary()
	if cfg.NormalizerDictionaryPath == "" {
		return dictionary, nil
	}
	overrides, err := config.LoadNormalizerDictionary(cfg.NormalizerDictionaryPath)
	if err != nil {
		return nil, err
	}
	maps.Copy(dictionary, overrides)
	return dictionary, nil
}

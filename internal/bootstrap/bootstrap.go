package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/multimodal-rag/internal/config"
	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/core/ports"
	"github.com/kirillkom/multimodal-rag/internal/core/usecase"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/cache/rediscache"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/multimodal-rag/internal/observability/metrics"
)

type App struct {
	Config config.Config

	HTTPMetrics *metrics.HTTPServerMetrics
	Chats       ports.ChatService
	Contexts    ports.ContextRetriever

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	app := &App{Config: cfg}
	httpMetrics := metrics.NewHTTPServerMetrics(service)
	app.HTTPMetrics = httpMetrics

	executor := resilience.NewExecutor(cfg.Resilience)
	executor.OnRetry(httpMetrics.RecordRetry)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db, cfg.EmbeddingDimensions); err != nil {
		app.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	settings := postgres.NewSettingsRepository(db)
	documents := postgres.NewDocumentRepository(db)
	chats := postgres.NewChatRepository(db)

	vector, keyword := searchBackend(cfg, db, executor)

	ollamaClient := ollama.New(cfg.OllamaURL, ollama.Options{
		ChatModel:           cfg.OllamaChatModel,
		UtilityModel:        cfg.OllamaUtilityModel,
		EmbedModel:          cfg.OllamaEmbedModel,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		Timeout:             cfg.OllamaTimeout,
		Executor:            executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)
	chatModel := ollama.NewChatModel(ollamaClient)

	var expander ports.QueryExpander = ollama.NewExpander(ollamaClient)
	if cfg.RedisURL != "" {
		rdb, err := rediscache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			// Expansion still works without the cache.
			slog.WarnContext(ctx, "expansion_cache_disabled", "error", err.Error())
		} else {
			app.onClose(func() { _ = rdb.Close() })
			expander = rediscache.NewExpansionCache(expander, rdb, cfg.ExpansionCacheTTL, cfg.OllamaUtilityModel)
		}
	}

	var evaluations ports.EvaluationPublisher
	if cfg.EvaluationEnabled {
		queue, err := nats.New(cfg.NATSURL, cfg.NATSEvaluationSubject, nats.Options{ResilienceExecutor: executor})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init evaluation queue: %w", err)
		}
		app.onClose(queue.Close)
		evaluations = queue
	}

	retrieval := usecase.NewRetrievalUseCase(settings, documents, embedder, vector, keyword, expander, httpMetrics)
	contexts := usecase.NewContextUseCase(retrieval)
	agent := usecase.NewRAGAgent(contexts, chatModel, generator, domain.AgentLimits{
		PlannerTimeout:   cfg.PlannerTimeout,
		GuardrailTimeout: cfg.GuardrailTimeout,
		HistoryMessages:  cfg.ChatHistoryMessages,
		GuardrailEnabled: cfg.GuardrailEnabled,
	})

	app.Contexts = contexts
	app.Chats = usecase.NewChatUseCase(chats, settings, agent, evaluations, httpMetrics)
	return app, nil
}

func searchBackend(cfg config.Config, db *sql.DB, executor *resilience.Executor) (ports.VectorSearcher, ports.KeywordSearcher) {
	if cfg.VectorBackend == config.VectorBackendQdrant {
		client := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, executor)
		return client, client
	}
	repo := postgres.NewSearchRepository(db)
	return repo, repo
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

// Worker consumes published evaluation records into the local dataset and,
// with the qdrant backend, keeps the Qdrant collection in step with Postgres.
type Worker struct {
	Config config.Config

	Queue    *nats.Queue
	Recorder *usecase.EvaluationRecorder
	Indexer  *usecase.IndexSync
	Metrics  *metrics.WorkerMetrics

	db *sql.DB
}

func NewWorker(cfg config.Config, service string) (*Worker, error) {
	dataset, err := localfs.New(cfg.EvaluationDatasetPath)
	if err != nil {
		return nil, fmt.Errorf("init evaluation dataset: %w", err)
	}
	executor := resilience.NewExecutor(cfg.Resilience)
	queue, err := nats.New(cfg.NATSURL, cfg.NATSEvaluationSubject, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		return nil, fmt.Errorf("init evaluation queue: %w", err)
	}
	w := &Worker{
		Config:   cfg,
		Queue:    queue,
		Recorder: usecase.NewEvaluationRecorder(dataset),
		Metrics:  metrics.NewWorkerMetrics(service),
	}
	if cfg.VectorBackend == config.VectorBackendQdrant {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		w.db = db
		w.Indexer = newIndexSync(cfg, db, executor)
	}
	return w, nil
}

func newIndexSync(cfg config.Config, db *sql.DB, executor *resilience.Executor) *usecase.IndexSync {
	return usecase.NewIndexSync(
		postgres.NewChunkRepository(db),
		qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, executor),
		cfg.QdrantSyncBatchSize,
	)
}

func (w *Worker) Close() {
	if w.Queue != nil {
		w.Queue.Close()
	}
	if w.db != nil {
		_ = w.db.Close()
	}
}

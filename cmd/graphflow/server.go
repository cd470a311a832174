package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/agent"
	"github.com/BaSui01/graphflow/api/handlers"
	"github.com/BaSui01/graphflow/config"
	"github.com/BaSui01/graphflow/internal/metrics"
	"github.com/BaSui01/graphflow/internal/server"
	"github.com/BaSui01/graphflow/llm"
	llmcache "github.com/BaSui01/graphflow/llm/cache"
	"github.com/BaSui01/graphflow/llm/providers"
	"github.com/BaSui01/graphflow/rag"
	"github.com/BaSui01/graphflow/rag/loader"
	"github.com/BaSui01/graphflow/workflow"
)

// Server composes the engine: gateway, store, retriever, registry, executor,
// and the HTTP surface.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	gateway   *llm.Gateway
	store     rag.Store
	retriever *rag.Retriever
	loader    *loader.Loader
	executor  *workflow.Executor
	collector *metrics.Collector
	cache     *llmcache.RedisCache

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer wires all components from the configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	chatProvider, embeddingProvider, err := providers.FromConfig(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	var gatewayOpts []llm.GatewayOption
	if cfg.Redis.Addr != "" {
		s.cache = llmcache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL, logger)
		gatewayOpts = append(gatewayOpts, llm.WithCache(s.cache))
		logger.Info("completion cache enabled", zap.String("addr", cfg.Redis.Addr))
	}
	s.gateway = llm.NewGateway(chatProvider, embeddingProvider,
		cfg.LLM.SmallModel, cfg.LLM.LargeModel, logger, gatewayOpts...)

	s.collector = metrics.NewCollector("graphflow", logger)
	s.loader = loader.New(logger)

	if err := s.initStore(); err != nil {
		return nil, err
	}

	s.retriever = rag.NewRetriever(s.store, s.gateway, s.gateway, cfg.Retrieval.SnippetBudget, logger)

	registry := workflow.NewRegistry(logger)
	images := s.buildImageBackend()
	agent.RegisterAll(registry, s.gateway, s.retriever, images, logger)

	s.executor = workflow.NewExecutor(registry, s.gateway, logger,
		workflow.WithExtractor(uploadExtractor{s.loader}),
		workflow.WithMetrics(s.collector),
		workflow.WithMaxParallel(cfg.Engine.MaxParallelAgents),
	)

	return s, nil
}

// uploadExtractor adapts the corpus loader to the executor's upload contract.
type uploadExtractor struct {
	loader *loader.Loader
}

func (u uploadExtractor) Supported(ext string) bool {
	return u.loader.Supported(ext)
}

func (u uploadExtractor) Extract(ext string, data []byte, name string) (string, error) {
	return u.loader.Extract(ext, data, name)
}

// initStore selects the embedding store backend per DATABASE_URL.
func (s *Server) initStore() error {
	if dsn := s.cfg.Store.DatabaseURL; dsn != "" {
		db, err := rag.OpenDatabase(dsn)
		if err != nil {
			return fmt.Errorf("open embedding database: %w", err)
		}
		store := rag.NewSQLStore(db, s.gateway, s.logger,
			rag.WithSQLBatchSize(s.cfg.Retrieval.EmbedBatchSize),
			rag.WithSQLRateLimit(s.cfg.Retrieval.EmbedRateLimit),
		)
		if err := store.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate embedding schema: %w", err)
		}
		s.store = store
		s.logger.Info("using SQL embedding store")
		return nil
	}

	s.store = rag.NewFileStore(s.gateway, s.cfg.Store.CacheDir, s.logger,
		rag.WithBatchSize(s.cfg.Retrieval.EmbedBatchSize),
		rag.WithRateLimit(s.cfg.Retrieval.EmbedRateLimit),
	)
	s.logger.Info("using file embedding store", zap.String("dir", s.cfg.Store.CacheDir))
	return nil
}

// buildImageBackend creates the configured image provider, or nil when image
// generation is not configured.
func (s *Server) buildImageBackend() agent.ImageBackend {
	switch s.cfg.LLM.ImageProvider {
	case "dalle":
		backend, err := providers.NewDallE(providers.DallEConfig{
			APIKey:  s.cfg.LLM.OpenAIAPIKey,
			BaseURL: s.cfg.LLM.OpenAIBaseURL,
			Timeout: s.cfg.LLM.Timeout,
		})
		if err != nil {
			s.logger.Warn("image provider unavailable", zap.Error(err))
			return nil
		}
		return backend
	default:
		// gemini and nano-banana are external collaborators; runs without
		// them record a recoverable note on image steps.
		s.logger.Info("image generation disabled", zap.String("provider", s.cfg.LLM.ImageProvider))
		return nil
	}
}

// SyncCorpora walks each corpus directory and syncs its embeddings. Failures
// are non-fatal; the run proceeds with whatever is indexed.
func (s *Server) SyncCorpora(ctx context.Context) {
	root := s.cfg.Retrieval.DocumentsDir
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("documents directory unreadable", zap.String("dir", root), zap.Error(err))
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		corpus := entry.Name()
		documents, err := s.loader.LoadCorpus(corpus, filepath.Join(root, corpus))
		if err != nil {
			s.logger.Warn("corpus load failed", zap.String("corpus", corpus), zap.Error(err))
			continue
		}

		stats, err := s.store.Sync(ctx, corpus, documents)
		if err != nil {
			s.logger.Warn("corpus sync failed", zap.String("corpus", corpus), zap.Error(err))
			continue
		}
		s.collector.SyncObserved(corpus, stats.Embedded, stats.Reused, stats.Deleted)
		s.retriever.RegisterCorpus(corpus, documents)
	}

	if def := s.cfg.Retrieval.DefaultCorpus; def != "" {
		if err := s.retriever.SetActive(def); err != nil {
			s.logger.Warn("default knowledge base not present", zap.String("corpus", def))
		}
	}
}

// Start brings up the API and metrics listeners.
func (s *Server) Start() error {
	executeHandler := handlers.NewExecuteHandler(
		s.executor, s.retriever, s.cfg.Engine.RequestTimeout, s.cfg.Engine.EventBuffer, s.logger)
	knowledgeHandler := handlers.NewKnowledgeHandler(s.retriever, s.logger)
	documentsHandler := handlers.NewDocumentsHandler(
		s.store, s.loader, s.retriever, s.cfg.Retrieval.DocumentsDir, s.logger)
	healthHandler := handlers.NewHealthHandler(handlers.ProviderInfo{
		Provider:      s.cfg.LLM.Provider,
		SmallModel:    s.cfg.LLM.SmallModel,
		LargeModel:    s.cfg.LLM.LargeModel,
		ImageProvider: s.cfg.LLM.ImageProvider,
	}, s.retriever, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", healthHandler.HandleHealth)
	mux.HandleFunc("/version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))
	mux.HandleFunc("/api/v1/provider", healthHandler.HandleProvider)
	mux.HandleFunc("/api/v1/workflow/execute", executeHandler.HandleExecute)
	mux.HandleFunc("/api/v1/workflow/execute/ws", executeHandler.HandleExecuteWS)
	mux.HandleFunc("/api/v1/knowledge-base", knowledgeHandler.HandleInfo)
	mux.HandleFunc("/api/v1/knowledge-base/switch", knowledgeHandler.HandleSwitch)
	mux.HandleFunc("/api/v1/documents", documentsHandler.HandleUpload)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger, s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.Port),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// WaitForShutdown blocks until termination, then shuts everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown gracefully stops all listeners and connections.
func (s *Server) Shutdown() {
	ctx := context.Background()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("cache close error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}

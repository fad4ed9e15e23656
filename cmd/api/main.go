// Quorum API server: multi-model debate orchestration with per-turn SSE
// streaming and quality analysis.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/krjordan/quorum/internal/config"
	"github.com/krjordan/quorum/internal/database"
	"github.com/krjordan/quorum/internal/debate"
	"github.com/krjordan/quorum/internal/embedding"
	"github.com/krjordan/quorum/internal/handlers"
	"github.com/krjordan/quorum/internal/llm"
	"github.com/krjordan/quorum/internal/quality"
	"github.com/krjordan/quorum/internal/tokens"
)

const judgeModel = "gpt-4o-mini"

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Server.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := connectDatabase(ctx, cfg, logger)
	cache := connectRedis(cfg, logger)

	registry := llm.NewRegistry(llm.Keys{
		OpenAI:    cfg.LLM.OpenAIAPIKey,
		Anthropic: cfg.LLM.AnthropicAPIKey,
		Google:    cfg.LLM.GoogleAPIKey,
		Mistral:   cfg.LLM.MistralAPIKey,
	}, logger)

	counter := tokens.NewCounter(logger)
	assembler := debate.NewAssembler(counter, cfg.Debate.MaxContextTokens)

	pipeline := buildQualityPipeline(cfg, store, cache, registry, logger)

	promRegistry := prometheus.NewRegistry()
	metrics := debate.NewMetrics(promRegistry)

	service := debate.NewService(registry, assembler, counter, pipeline, metrics, logger)
	service.SetTurnTimeout(cfg.LLM.TurnTimeout)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.Server.CORSOrigins))

	var dbPing func() error
	if store != nil {
		dbPing = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.HealthCheck(pingCtx)
		}
	}
	handler := handlers.NewDebateHandler(service, dbPing, logger)
	if store != nil {
		handler.SetQualityReader(store)
	}
	handler.RegisterRoutes(router, promRegistry)

	server := &http.Server{
		Addr:        cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays unset so SSE streams are not cut off.
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("Starting Quorum API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
	if store != nil {
		_ = store.Close()
	}
	if cache != nil {
		_ = cache.Close()
	}
}

// connectDatabase connects the pgvector store, or returns nil when no
// DATABASE_URL is configured. Quality analysis is skipped without it.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *logrus.Logger) *database.Store {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, quality analysis disabled")
		return nil
	}

	dbConfig := &database.Config{
		URL:             cfg.Database.URL,
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	}
	store, err := database.NewStore(dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid database configuration")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.Connect(connectCtx); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	logger.Info("Connected to database")
	return store
}

// connectRedis builds the embedding cache client, or nil when disabled.
func connectRedis(cfg *config.Config, logger *logrus.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.WithError(err).Warn("Invalid REDIS_URL, embedding cache disabled")
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unreachable, embedding cache disabled")
		_ = client.Close()
		return nil
	}
	logger.Info("Connected to Redis")
	return client
}

// buildQualityPipeline wires the analyzers. It returns nil when the database
// or the OpenAI key (embeddings and the contradiction judge) is missing.
func buildQualityPipeline(cfg *config.Config, store *database.Store, cache *redis.Client, registry *llm.Registry, logger *logrus.Logger) debate.QualityPipeline {
	if store == nil {
		return nil
	}
	if cfg.LLM.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, quality analysis disabled")
		return nil
	}

	judge, err := registry.ProviderFor(judgeModel)
	if err != nil {
		logger.WithError(err).Warn("No judge model available, quality analysis disabled")
		return nil
	}

	embedder := embedding.NewService(embedding.NewOpenAIEmbedder(cfg.LLM.OpenAIAPIKey), store, cache, logger)

	return quality.NewPipeline(
		store,
		embedder,
		quality.NewContradictionDetector(store, judge, logger),
		quality.NewLoopDetector(store, judge, logger),
		quality.NewHealthScorer(embedder, store, logger),
		logger,
	)
}

// corsMiddleware mirrors the configured origins onto every response.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pricematch/migrations"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/config"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/database"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/embedding"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/handlers"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/llm"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/logging"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/middleware"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/repositories"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/retry"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/services"
	"github.com/ekaya-inc/ekaya-pricematch/pkg/similarity"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath, Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Float64("tolerance_percent", cfg.Matching.TolerancePercent),
		zap.Float64("minimum_confidence", cfg.Matching.MinimumConfidence),
		zap.Bool("learning_enabled", cfg.Learning.Enabled))

	connStr := cfg.Database.ConnectionString()
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database",
			zap.String("connection", logging.SanitizeConnectionString(connStr)),
			zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()
	logger.Info("Connected to database", zap.String("connection", logging.SanitizeConnectionString(connStr)))

	if err := database.RunMigrations(db, migrations.FS, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	encoder, closeStore := newEncoder(ctx, cfg, logger)
	defer closeStore()

	engine := similarity.NewEngine(encoder, logger)

	catalogueRepo := repositories.NewCatalogueRepository(db)
	associationRepo := repositories.NewVerifiedAssociationRepository(db)
	invoiceLineRepo := repositories.NewInvoiceLineRepository(db)
	priceCheckRepo := repositories.NewPriceCheckRepository(db)

	resolver := services.NewMatchResolver(catalogueRepo, associationRepo, engine, services.ResolverConfig{
		AcceptanceFloor:     cfg.Matching.AcceptanceFloor,
		CodeConfidenceFloor: cfg.Matching.CodeConfidenceFloor,
		LearningEnabled:     cfg.Learning.Enabled,
		NegativeCacheTTL:    cfg.Matching.NegativeCacheTTL,
	}, logger)
	learningService := services.NewLearningService(associationRepo, resolver, cfg.Learning.Enabled, logger)
	evaluationService := services.NewEvaluationService(resolver, invoiceLineRepo, priceCheckRepo, services.EvaluationConfig{
		TolerancePercent:  cfg.Matching.TolerancePercent,
		MinimumConfidence: cfg.Matching.MinimumConfidence,
		Retry:             retry.OnceConfig(),
	}, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, encoder, logger).RegisterRoutes(mux)
	handlers.NewMatchingHandler(evaluationService, logger).RegisterRoutes(mux)
	handlers.NewAssociationsHandler(learningService, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.Chain(mux, middleware.RequestLogger(logger.Named("http")), middleware.Recover(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-pricematch",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("semantic", engine.Semantic()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// newLogger builds a development logger for local runs and a JSON production
// logger otherwise, at the configured level.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Env == "local" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = level
	return zapCfg.Build()
}

// newEncoder wires the embedding client, the optional persistent vector store
// and the encoder. The returned func closes the store.
func newEncoder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*embedding.Encoder, func()) {
	closeStore := func() {}

	var client llm.EmbeddingClient
	if cfg.Encoder.IsConfigured() {
		c, err := llm.NewClient(&llm.Config{
			Endpoint: cfg.Encoder.BaseURL,
			Model:    cfg.Encoder.ModelName,
			APIKey:   cfg.Encoder.APIKey,
		}, logger)
		if err != nil {
			logger.Warn("Embedding client not created", zap.String("error", logging.SanitizeError(err)))
		} else {
			client = c
		}
	}

	opts := embedding.Options{
		CacheSize:   cfg.Encoder.CacheSize,
		BatchSize:   cfg.Encoder.BatchSize,
		InitTimeout: cfg.Encoder.InitTimeout,
		Pool:        llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.Encoder.MaxConcurrent}, logger),
		Breaker:     llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig()),
	}

	if client != nil && cfg.Encoder.CachePath != "" {
		store, err := embedding.OpenBadgerStore(cfg.Encoder.CachePath, cfg.Encoder.ModelName, logger)
		if err != nil {
			logger.Warn("Persistent vector cache disabled", zap.Error(err))
		} else {
			opts.Store = store
			closeStore = func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close vector store", zap.Error(err))
				}
			}
		}
	}

	return embedding.NewEncoder(ctx, client, opts, logger), closeStore
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"kgraph/backend/internal/adapter"
	"kgraph/backend/internal/engine"
	"kgraph/backend/internal/observability"
	"kgraph/backend/internal/store"
	"kgraph/backend/pkg/config"
	apperrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

type closableStore interface {
	engine.Store
	Close(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting knowledge graph server...",
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreBackend),
		zap.String("model", cfg.ModelID))

	ctx := context.Background()

	// Open the graph store
	graphStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open graph store", zap.Error(err))
	}
	defer graphStore.Close(context.Background())

	// Initialize dependencies
	collector := observability.NewCollector("kgraph")
	provider := adapter.NewProvider(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ModelID,
		adapter.WithBreaker(adapter.BreakerConfig{
			FailureRatio: cfg.BreakerFailureRatio,
			MinRequests:  cfg.BreakerMinRequests,
			OpenTimeout:  cfg.BreakerOpenTimeout,
		}),
		adapter.WithObserver(collector.ObserveProviderCall))

	manager := engine.New(graphStore, provider,
		engine.WithCollector(collector),
		engine.WithDeadline(cfg.ExpansionDeadline),
		engine.WithMaxIterations(cfg.MaxIterations),
		engine.WithIterationPause(cfg.IterationPause),
		engine.WithLowCoherenceThreshold(cfg.LowCoherenceThreshold))
	if err := manager.Initialize(ctx); err != nil {
		log.Fatal("Failed to initialize graph manager", zap.Error(err))
	}
	defer manager.Close()

	hub := newEventHub(log.Named("events"))
	manager.SetOnUpdate(hub.publish)

	router := newRouter(&server{
		manager:   manager,
		events:    hub,
		collector: collector,
		log:       log,
	}, cfg.IsProduction())

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	hub.close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// openStore connects the configured graph store backend
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (closableStore, error) {
	if cfg.UsesMemoryStore() {
		log.Warn("Using the in-memory graph store, data will not survive a restart")
		return store.NewMemoryStore(), nil
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		return nil, apperrors.NewStoreConnectionFailed(cfg.Neo4jURI, err)
	}

	// Verify Neo4j connection
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewStoreConnectionFailed(cfg.Neo4jURI, err)
	}

	neo := store.NewNeo4jStore(driver)
	if err := neo.EnsureSchema(ctx); err != nil {
		_ = neo.Close(ctx)
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return neo, nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-vectorsync/internal/api"
	"chat-vectorsync/internal/config"
	"chat-vectorsync/internal/database"
	"chat-vectorsync/internal/logging"
	"chat-vectorsync/internal/services"
	"chat-vectorsync/internal/vectorstore"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting chat vector sync server")

	// Initialize database
	if err := database.Initialize(cfg, logger); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	// Initialize vector store
	var vectors services.VectorService
	var pinger api.Pinger
	if cfg.Vector.Enabled {
		store, err := openVectorStore(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize vector store", zap.Error(err))
		}
		defer store.Close()
		vectors = store
		pinger = store
	} else {
		logger.Warn("Vector store disabled, batch runs will fail")
	}

	// Initialize services
	batchProcessor := services.NewBatchProcessor(database.DB, vectors, cfg.Batch, services.NewProgressRegistry(), logger)
	migrationService := services.NewMigrationService(database.DB, vectors, cfg.Migration, logger)
	conversationService := services.NewConversationService(database.DB, logger)

	// Initialize handlers
	handler := api.NewHandler(
		database.DB,
		batchProcessor,
		migrationService,
		conversationService,
		pinger,
		cfg.Migration.ExportDir,
		logger,
	)

	// Setup Gin router
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Setup middleware
	api.SetupMiddleware(router, cfg)
	router.Use(api.LoggingMiddleware(logger))
	router.Use(api.RecoveryMiddleware(logger))

	// Setup routes
	api.SetupRoutes(router, handler)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting",
			zap.String("address", srv.Addr),
			zap.Int("port", cfg.Server.Port),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Background batch runs finish before the database is closed
	handler.Wait()

	logger.Info("Server exited")
}

func openVectorStore(cfg *config.Config, logger *zap.Logger) (*vectorstore.QdrantStore, error) {
	embedder, err := vectorstore.NewOpenAIEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	store, err := vectorstore.NewQdrantStore(cfg.Vector, embedder, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.EnsureCollection(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

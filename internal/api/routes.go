package api

import (
	"time"

	"chat-vectorsync/internal/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, handler *Handler) {
	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// System endpoints
		v1.GET("/health", handler.HealthCheck)
		v1.GET("/ready", handler.ReadyCheck)

		// Batch endpoints
		batch := v1.Group("/batch")
		{
			batch.POST("/generate-vectors", handler.GenerateVectors)
			batch.POST("/upload", handler.UploadMessages)
			batch.GET("/progress", handler.ListProgress)
			batch.GET("/progress/:id", handler.GetProgress)
		}
		v1.GET("/messages/stats", handler.MessageStats)

		// Migration endpoints
		migrations := v1.Group("/migrations")
		{
			migrations.GET("", handler.ListMigrationRuns)
			migrations.POST("/export", handler.ExportData)
			migrations.POST("/import", handler.ImportData)
		}
		v1.POST("/sessions/migrate", handler.MigrateSession)

		// Conversation endpoints
		conversations := v1.Group("/conversations")
		{
			conversations.GET("", handler.ListConversations)
			conversations.GET("/:id", handler.GetConversation)
		}
	}
}

// SetupMiddleware configures all middleware
func SetupMiddleware(router *gin.Engine, cfg *config.Config) {
	// Request ID middleware
	router.Use(RequestIDMiddleware())

	// CORS middleware
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	// Rate limiting
	router.Use(RateLimitMiddleware(NewLimiter(cfg.RateLimit)))
}

// NewLimiter builds a token bucket refilled at the configured per-minute rate
func NewLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, cfg.BurstSize)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.BurstSize)
}

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"chat-vectorsync/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func serve(router *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIsPolling(t *testing.T) {
	assert.True(t, isPolling("/api/v1/health"))
	assert.True(t, isPolling("/api/v1/batch/progress"))
	assert.True(t, isPolling("/api/v1/batch/progress/abc"))
	assert.False(t, isPolling("/api/v1/batch/progressive"))
	assert.False(t, isPolling("/api/v1/batch/generate-vectors"))
}

func TestRateLimitMiddleware_PollingIsExempt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(NewLimiter(config.RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	router.GET("/api/v1/batch/progress/:id", ok)
	router.POST("/api/v1/batch/upload", ok)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/v1/batch/progress/b1", nil).Code)
	}

	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/api/v1/batch/upload", nil).Code)
	limited := serve(router, http.MethodPost, "/api/v1/batch/upload", nil)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
}

func TestLoggingMiddleware_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(zap.New(core)))
	router.GET("/api/v1/batch/progress", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/api/v1/batch/upload", func(c *gin.Context) {
		c.Set("batch_id", "b-42")
		c.Status(http.StatusOK)
	})
	router.GET("/api/v1/broken", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	serve(router, http.MethodGet, "/api/v1/batch/progress", nil)
	assert.Equal(t, 0, logs.Len(), "polling is logged at debug")

	serve(router, http.MethodPost, "/api/v1/batch/upload", nil)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	assert.Equal(t, "b-42", entry.ContextMap()["batch_id"])
	assert.NotEmpty(t, entry.ContextMap()["request_id"])

	serve(router, http.MethodGet, "/api/v1/broken", nil)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORSMiddleware([]string{"https://ops.example.com"}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	allowed := serve(router, http.MethodGet, "/", http.Header{"Origin": {"https://ops.example.com"}})
	assert.Equal(t, "https://ops.example.com", allowed.Header().Get("Access-Control-Allow-Origin"))

	denied := serve(router, http.MethodGet, "/", http.Header{"Origin": {"https://evil.example.com"}})
	assert.Empty(t, denied.Header().Get("Access-Control-Allow-Origin"))

	preflight := serve(router, http.MethodOptions, "/", http.Header{"Origin": {"https://ops.example.com"}})
	assert.Equal(t, http.StatusNoContent, preflight.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.ErrorLevel)

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(RecoveryMiddleware(zap.New(core)))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := serve(router, http.MethodGet, "/panic", http.Header{"X-Request-ID": {"req-1"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "req-1")
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}

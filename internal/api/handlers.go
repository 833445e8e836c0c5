package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"chat-vectorsync/internal/database"
	"chat-vectorsync/internal/models"
	"chat-vectorsync/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Pinger is implemented by dependencies that take part in readiness checks
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all handlers and dependencies
type Handler struct {
	db            *gorm.DB
	batch         *services.BatchProcessor
	migration     *services.MigrationService
	conversations *services.ConversationService
	vectorStore   Pinger
	exportDir     string
	log           *zap.Logger

	jobs sync.WaitGroup
}

// NewHandler creates a new handler instance. vectorStore may be nil when
// the vector store is disabled.
func NewHandler(
	db *gorm.DB,
	batch *services.BatchProcessor,
	migration *services.MigrationService,
	conversations *services.ConversationService,
	vectorStore Pinger,
	exportDir string,
	log *zap.Logger,
) *Handler {
	return &Handler{
		db:            db,
		batch:         batch,
		migration:     migration,
		conversations: conversations,
		vectorStore:   vectorStore,
		exportDir:     exportDir,
		log:           log,
	}
}

// Wait blocks until all background batch runs have finished
func (h *Handler) Wait() {
	h.jobs.Wait()
}

// HealthCheck handles health check endpoint
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyCheck handles readiness check endpoint
func (h *Handler) ReadyCheck(c *gin.Context) {
	if err := database.Ping(h.db); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"reason": "database_ping_failed",
		})
		return
	}

	if h.vectorStore != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := h.vectorStore.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"reason": "vector_store_unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// batchRequest is the body of the batch endpoints
type batchRequest struct {
	SessionID       string `json:"session_id"`
	MissingOnly     *bool  `json:"missing_only"`
	BatchSize       int    `json:"batch_size" binding:"omitempty,min=1"`
	MaxConcurrency  int    `json:"max_concurrency" binding:"omitempty,min=1,max=100"`
	MaxResultsGuard *int   `json:"max_results_guard"`
	DisableGuard    bool   `json:"disable_guard"`
	Async           bool   `json:"async"`
}

// GenerateVectors embeds every message without a point id
func (h *Handler) GenerateVectors(c *gin.Context) {
	h.runBatch(c, services.OperationGenerateVectors)
}

// UploadMessages uploads messages to the vector store
func (h *Handler) UploadMessages(c *gin.Context) {
	h.runBatch(c, services.OperationUpload)
}

func (h *Handler) runBatch(c *gin.Context, operation string) {
	var body batchRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		h.errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	missingOnly := true
	if operation == services.OperationUpload && body.MissingOnly != nil {
		missingOnly = *body.MissingOnly
	}

	req := services.BatchRequest{
		Operation:       operation,
		SessionID:       body.SessionID,
		MissingOnly:     missingOnly,
		BatchSize:       body.BatchSize,
		MaxConcurrency:  body.MaxConcurrency,
		MaxResultsGuard: body.MaxResultsGuard,
		DisableGuard:    body.DisableGuard,
		BatchID:         uuid.New().String(),
	}
	c.Set("batch_id", req.BatchID)

	if body.Async {
		h.jobs.Add(1)
		go func() {
			defer h.jobs.Done()
			if _, err := h.batch.Run(context.Background(), req); err != nil {
				h.log.Error("Background batch run failed",
					zap.String("batch_id", req.BatchID),
					zap.Error(err),
				)
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{
			"batch_id":     req.BatchID,
			"status":       "accepted",
			"progress_url": "/api/v1/batch/progress/" + req.BatchID,
		})
		return
	}

	result, err := h.batch.Run(c.Request.Context(), req)
	if err != nil {
		status, code := statusForError(err)
		h.errorResponse(c, status, code, err.Error(), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result": result,
	})
}

// progressView adds the derived completion percentage
type progressView struct {
	models.BatchProcessingProgress
	PercentComplete float64 `json:"percent_complete"`
}

func newProgressView(p models.BatchProcessingProgress) progressView {
	return progressView{BatchProcessingProgress: p, PercentComplete: p.PercentComplete()}
}

// ListProgress lists all in-flight batch runs
func (h *Handler) ListProgress(c *gin.Context) {
	runs := h.batch.Registry().List()
	views := make([]progressView, len(runs))
	for i, p := range runs {
		views[i] = newProgressView(p)
	}

	c.JSON(http.StatusOK, gin.H{
		"batches": views,
	})
}

// GetProgress gets the progress of one in-flight batch run
func (h *Handler) GetProgress(c *gin.Context) {
	progress, ok := h.batch.Registry().Get(c.Param("id"))
	if !ok {
		h.errorResponse(c, http.StatusNotFound, "NOT_FOUND", "Batch not running", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"progress": newProgressView(progress),
	})
}

// MessageStats reports how many messages are linked to the vector store
func (h *Handler) MessageStats(c *gin.Context) {
	stats, err := h.batch.Stats(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		h.errorResponse(c, http.StatusInternalServerError, "STATS_ERROR", "Failed to compute stats", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
	})
}

type exportRequest struct {
	Filename       string   `json:"filename"`
	SessionIDs     []string `json:"session_ids"`
	IncludeVectors bool     `json:"include_vectors"`
}

// ExportData writes a backup document into the export directory
func (h *Handler) ExportData(c *gin.Context) {
	var body exportRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		h.errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	filename := body.Filename
	if filename == "" {
		filename = fmt.Sprintf("backup-%s.json", time.Now().UTC().Format("20060102-150405"))
	}
	path, err := h.exportPath(filename)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "INVALID_FILENAME", err.Error(), nil)
		return
	}

	result, err := h.migration.ExportData(c.Request.Context(), services.ExportRequest{
		OutputPath:     path,
		SessionIDs:     body.SessionIDs,
		IncludeVectors: body.IncludeVectors,
	})
	h.migrationResponse(c, result, err)
}

type importRequest struct {
	Filename          string `json:"filename" binding:"required"`
	OverwriteExisting bool   `json:"overwrite_existing"`
	Validate          *bool  `json:"validate"`
}

// ImportData merges a backup document from the export directory
func (h *Handler) ImportData(c *gin.Context) {
	var body importRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	path, err := h.exportPath(body.Filename)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "INVALID_FILENAME", err.Error(), nil)
		return
	}

	validate := true
	if body.Validate != nil {
		validate = *body.Validate
	}

	result, err := h.migration.ImportData(c.Request.Context(), services.ImportRequest{
		InputPath:         path,
		OverwriteExisting: body.OverwriteExisting,
		Validate:          validate,
	})
	h.migrationResponse(c, result, err)
}

type sessionMigrationRequest struct {
	OldSessionID      string `json:"old_session_id" binding:"required"`
	NewSessionID      string `json:"new_session_id" binding:"required"`
	UpdateVectorStore bool   `json:"update_vector_store"`
}

// MigrateSession moves a session's data to a new session id
func (h *Handler) MigrateSession(c *gin.Context) {
	var body sessionMigrationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	result, err := h.migration.MigrateSession(c.Request.Context(), services.SessionMigrationRequest{
		OldSessionID:      body.OldSessionID,
		NewSessionID:      body.NewSessionID,
		UpdateVectorStore: body.UpdateVectorStore,
	})
	h.migrationResponse(c, result, err)
}

// ListMigrationRuns lists recent export, import and session migration runs
func (h *Handler) ListMigrationRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	runs, err := h.migration.ListRuns(c.Request.Context(), c.Query("operation"), limit)
	if err != nil {
		h.errorResponse(c, http.StatusInternalServerError, "LIST_ERROR", "Failed to list migration runs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs": runs,
	})
}

// ListConversations lists conversations
func (h *Handler) ListConversations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	conversations, total, err := h.conversations.List(c.Request.Context(), c.Query("session_id"), page, limit)
	if err != nil {
		h.errorResponse(c, http.StatusInternalServerError, "LIST_ERROR", "Failed to list conversations", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": conversations,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetConversation gets a conversation with its messages
func (h *Handler) GetConversation(c *gin.Context) {
	conversation, err := h.conversations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrConversationNotFound) {
			h.errorResponse(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
			return
		}
		h.errorResponse(c, http.StatusInternalServerError, "GET_ERROR", "Failed to get conversation", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conversation,
	})
}

// exportPath confines a client supplied file name to the export directory
func (h *Handler) exportPath(filename string) (string, error) {
	name := filepath.Base(filepath.Clean(filename))
	if name == "." || name == ".." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid file name %q", filename)
	}
	if filepath.Ext(name) != ".json" {
		name += ".json"
	}
	return filepath.Join(h.exportDir, name), nil
}

// migrationResponse renders a migration result. The result is included
// even on failure so callers can inspect the collected errors.
func (h *Handler) migrationResponse(c *gin.Context, result *models.MigrationResult, err error) {
	if err != nil {
		status, code := statusForError(err)
		requestID := c.GetString("request_id")
		h.log.Warn("Migration operation failed",
			zap.String("code", code),
			zap.Error(err),
			zap.String("request_id", requestID),
		)
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    code,
				"message": err.Error(),
			},
			"result":     result,
			"request_id": requestID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result": result,
	})
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "RUN_CANCELLED"
	case errors.Is(err, services.ErrVectorServiceRequired):
		return http.StatusServiceUnavailable, "VECTOR_SERVICE_UNAVAILABLE"
	case errors.Is(err, services.ErrDatabaseUnavailable):
		return http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE"
	case errors.Is(err, services.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_FAILED"
	case errors.Is(err, services.ErrInvalidSession):
		return http.StatusBadRequest, "INVALID_SESSION"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// errorResponse sends a standardized error response
func (h *Handler) errorResponse(c *gin.Context, status int, code, message string, err error) {
	requestID := c.GetString("request_id")

	response := gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
		"request_id": requestID,
	}

	if err != nil {
		h.log.Error("Request error",
			zap.String("code", code),
			zap.String("message", message),
			zap.Error(err),
			zap.String("request_id", requestID),
		)
	}

	c.JSON(status, response)
}

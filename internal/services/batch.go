package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-vectorsync/internal/config"
	"chat-vectorsync/internal/database"
	"chat-vectorsync/internal/models"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	OperationGenerateVectors = "generate_vectors"
	OperationUpload          = "upload"
)

// BatchRequest describes one batch run
type BatchRequest struct {
	Operation      string
	SessionID      string
	MissingOnly    bool
	BatchSize      int
	MaxConcurrency int

	// MaxResultsGuard overrides the configured guard. DisableGuard turns
	// clamping off entirely.
	MaxResultsGuard *int
	DisableGuard    bool

	// BatchID is generated when empty
	BatchID    string
	OnProgress func(models.BatchProcessingProgress)
}

// BatchOptions are the tunables shared by the convenience entry points
type BatchOptions struct {
	BatchSize       int
	MaxConcurrency  int
	MaxResultsGuard *int
	DisableGuard    bool
	BatchID         string
	OnProgress      func(models.BatchProcessingProgress)
}

// MessageStats summarizes how many messages are linked to the vector store
type MessageStats struct {
	SessionID      string `json:"session_id,omitempty"`
	Total          int64  `json:"total"`
	WithVectors    int64  `json:"with_vectors"`
	WithoutVectors int64  `json:"without_vectors"`
}

// BatchProcessor embeds and uploads messages in bounded chunks and links
// each message to its vector store point
type BatchProcessor struct {
	db       *gorm.DB
	vectors  VectorService
	selector *MessageSelector
	registry *ProgressRegistry
	cfg      config.BatchConfig
	log      *zap.Logger
}

// NewBatchProcessor creates a new batch processor. vectors may be nil, in
// which case every run fails with ErrVectorServiceRequired.
func NewBatchProcessor(db *gorm.DB, vectors VectorService, cfg config.BatchConfig, registry *ProgressRegistry, log *zap.Logger) *BatchProcessor {
	if registry == nil {
		registry = NewProgressRegistry()
	}
	return &BatchProcessor{
		db:       db,
		vectors:  vectors,
		selector: NewMessageSelector(db, log),
		registry: registry,
		cfg:      cfg,
		log:      log,
	}
}

// Registry returns the progress registry of in-flight runs
func (p *BatchProcessor) Registry() *ProgressRegistry {
	return p.registry
}

// GenerateVectors embeds every message that has no point id yet
func (p *BatchProcessor) GenerateVectors(ctx context.Context, sessionID string, opts BatchOptions) (*models.BatchProcessingResult, error) {
	return p.Run(ctx, opts.request(OperationGenerateVectors, sessionID, true))
}

// UploadMessages uploads messages to the vector store, optionally only
// those without a point id
func (p *BatchProcessor) UploadMessages(ctx context.Context, sessionID string, missingOnly bool, opts BatchOptions) (*models.BatchProcessingResult, error) {
	return p.Run(ctx, opts.request(OperationUpload, sessionID, missingOnly))
}

func (o BatchOptions) request(operation, sessionID string, missingOnly bool) BatchRequest {
	return BatchRequest{
		Operation:       operation,
		SessionID:       sessionID,
		MissingOnly:     missingOnly,
		BatchSize:       o.BatchSize,
		MaxConcurrency:  o.MaxConcurrency,
		MaxResultsGuard: o.MaxResultsGuard,
		DisableGuard:    o.DisableGuard,
		BatchID:         o.BatchID,
		OnProgress:      o.OnProgress,
	}
}

// Run executes one batch run. A result is always returned; the error is
// non-nil only for configuration and infrastructure failures.
func (p *BatchProcessor) Run(ctx context.Context, req BatchRequest) (*models.BatchProcessingResult, error) {
	start := time.Now()

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}
	result := &models.BatchProcessingResult{
		BatchID: batchID,
		Errors:  []string{},
	}
	finish := func() *models.BatchProcessingResult {
		result.DurationSeconds = time.Since(start).Seconds()
		return result
	}

	if p.vectors == nil {
		result.Failed = 1
		result.Errors = append(result.Errors, ErrVectorServiceRequired.Error())
		p.log.Error("Batch run aborted", zap.String("batch_id", batchID), zap.Error(ErrVectorServiceRequired))
		return finish(), ErrVectorServiceRequired
	}

	batchSize := req.BatchSize
	if batchSize < 1 {
		batchSize = p.cfg.ChunkSize
	}
	if batchSize < 1 {
		batchSize = DefaultChunkSize
	}
	concurrency := req.MaxConcurrency
	if concurrency < 1 {
		concurrency = p.cfg.MaxConcurrency
	}
	if concurrency < 1 {
		concurrency = 5
	}

	filter := MessageFilter{SessionID: req.SessionID, MissingOnly: req.MissingOnly}

	total, err := p.selector.Count(ctx, filter)
	if err != nil {
		result.Failed = 1
		result.Errors = append(result.Errors, err.Error())
		p.log.Error("Failed to count eligible messages", zap.String("batch_id", batchID), zap.Error(err))
		return finish(), storeError(ctx, err)
	}
	if total == 0 {
		p.log.Info("No eligible messages", zap.String("batch_id", batchID), zap.String("operation", req.Operation))
		return finish(), nil
	}

	guard := p.resolveGuard(req)
	target, clamped := ApplyGuard(int(total), guard)
	if clamped {
		p.log.Warn("Batch run truncated by max results guard",
			zap.String("batch_id", batchID),
			zap.Int64("eligible", total),
			zap.Int("guard", *guard),
			zap.Int("target", target),
		)
	}
	if target == 0 {
		p.log.Warn("Max results guard caused a no-op batch run", zap.String("batch_id", batchID))
		return finish(), nil
	}

	progress := models.BatchProcessingProgress{
		BatchID:          batchID,
		TotalItems:       target,
		TotalBatches:     (target + batchSize - 1) / batchSize,
		StartTime:        start,
		CurrentOperation: req.Operation,
	}
	p.registry.Put(progress)
	defer p.registry.Remove(batchID)

	p.log.Info("Batch run started",
		zap.String("batch_id", batchID),
		zap.String("operation", req.Operation),
		zap.String("session_id", req.SessionID),
		zap.Int("target", target),
		zap.Int("batch_size", batchSize),
		zap.Int("max_concurrency", concurrency),
	)

	it := p.selector.Stream(filter, batchSize, target)
	for progress.ProcessedItems < target {
		chunk, err := it.Next(ctx)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			if ctx.Err() != nil {
				p.log.Warn("Batch run cancelled",
					zap.String("batch_id", batchID),
					zap.Int("processed", progress.ProcessedItems),
					zap.Int("target", target),
				)
			} else {
				p.log.Error("Failed to stream messages", zap.String("batch_id", batchID), zap.Error(err))
			}
			return finish(), storeError(ctx, err)
		}
		if len(chunk) == 0 {
			break
		}

		outcomes, err := p.processChunk(ctx, chunk, concurrency)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return finish(), err
		}
		for _, o := range outcomes {
			result.TotalProcessed++
			if o.err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("message %s: %v", o.messageID, o.err))
				continue
			}
			result.Successful++
		}

		progress.ProcessedItems += len(chunk)
		progress.CurrentBatch++
		p.registry.Put(progress)
		if req.OnProgress != nil {
			req.OnProgress(progress)
		}

		p.log.Info("Chunk processed",
			zap.String("batch_id", batchID),
			zap.Int("chunk", progress.CurrentBatch),
			zap.Int("total_chunks", progress.TotalBatches),
			zap.Int("processed", progress.ProcessedItems),
			zap.Int("target", target),
		)
	}

	finish()
	p.log.Info("Batch run completed",
		zap.String("batch_id", batchID),
		zap.Int("processed", result.TotalProcessed),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
		zap.Float64("duration_seconds", result.DurationSeconds),
	)
	return result, nil
}

func (p *BatchProcessor) resolveGuard(req BatchRequest) *int {
	if req.DisableGuard {
		return nil
	}
	if req.MaxResultsGuard != nil {
		return req.MaxResultsGuard
	}
	return p.cfg.Guard()
}

type itemOutcome struct {
	messageID string
	err       error
}

// processChunk uploads every message of the chunk with at most concurrency
// workers and returns once all of them have finished
func (p *BatchProcessor) processChunk(ctx context.Context, chunk []models.Message, concurrency int) ([]itemOutcome, error) {
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	outcomes := make([]itemOutcome, len(chunk))
	var wg sync.WaitGroup

	for i := range chunk {
		msg := chunk[i]
		outcomes[i].messageID = msg.MessageID

		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i].err = fmt.Errorf("worker panic: %v", r)
					p.log.Error("Recovered worker panic", zap.String("message_id", msg.MessageID), zap.Any("panic", r))
				}
			}()
			outcomes[i].err = p.processMessage(ctx, &msg)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			outcomes[i].err = fmt.Errorf("failed to schedule: %w", err)
		}
	}

	wg.Wait()
	return outcomes, nil
}

// processMessage writes the vector first and links the row second
func (p *BatchProcessor) processMessage(ctx context.Context, msg *models.Message) error {
	pointID, err := p.vectors.Upload(ctx, msg)
	if err != nil {
		p.log.Warn("Vector upload failed", zap.String("message_id", msg.MessageID), zap.Error(err))
		return fmt.Errorf("upload failed: %w", err)
	}
	if pointID == "" {
		return errors.New("vector service returned an empty point id")
	}

	retries := p.cfg.WriteBackRetries
	if retries < 1 {
		retries = 1
	}
	err = database.RetryWithBackoff(retries, p.cfg.WriteBackDelay, func() error {
		return p.writeBack(ctx, msg.ID, pointID)
	})
	if err != nil {
		// The point now exists unlinked; a later run overwrites it
		p.log.Warn("Point id write-back failed",
			zap.String("message_id", msg.MessageID),
			zap.String("point_id", pointID),
			zap.Error(err),
		)
		return fmt.Errorf("write-back failed: %w", err)
	}
	return nil
}

// writeBack reloads the message in a fresh session and stores its point id
func (p *BatchProcessor) writeBack(ctx context.Context, id uint, pointID string) error {
	session := p.db.WithContext(ctx).Session(&gorm.Session{NewDB: true})

	var msg models.Message
	if err := session.First(&msg, id).Error; err != nil {
		return fmt.Errorf("failed to reload message %d: %w", id, err)
	}
	return session.Model(&msg).Update("qdrant_point_id", pointID).Error
}

// Stats counts messages with and without a point id
func (p *BatchProcessor) Stats(ctx context.Context, sessionID string) (*MessageStats, error) {
	total, err := p.selector.Count(ctx, MessageFilter{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	missing, err := p.selector.Count(ctx, MessageFilter{SessionID: sessionID, MissingOnly: true})
	if err != nil {
		return nil, err
	}
	return &MessageStats{
		SessionID:      sessionID,
		Total:          total,
		WithVectors:    total - missing,
		WithoutVectors: missing,
	}, nil
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat-vectorsync/internal/config"
	"chat-vectorsync/internal/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	OperationExport         = "export"
	OperationImport         = "import"
	OperationMigrateSession = "migrate_session"
)

// MigrationService exports, imports and re-keys conversation data
type MigrationService struct {
	db      *gorm.DB
	vectors VectorService
	cfg     config.MigrationConfig
	log     *zap.Logger
}

// NewMigrationService creates a new migration service. vectors may be nil;
// vector payloads are then neither exported nor imported.
func NewMigrationService(db *gorm.DB, vectors VectorService, cfg config.MigrationConfig, log *zap.Logger) *MigrationService {
	return &MigrationService{
		db:      db,
		vectors: vectors,
		cfg:     cfg,
		log:     log,
	}
}

func newMigrationResult(operation string) *models.MigrationResult {
	return &models.MigrationResult{
		Operation: operation,
		Errors:    []string{},
	}
}

// recordRun appends the outcome to the migration history. Failures are
// logged only; history never changes the outcome of the operation.
func (s *MigrationService) recordRun(ctx context.Context, result *models.MigrationResult) {
	errorsJSON, err := json.Marshal(result.Errors)
	if err != nil {
		errorsJSON = []byte("[]")
	}

	run := models.MigrationRun{
		Operation:             result.Operation,
		BackupID:              result.BackupID,
		Success:               result.Success,
		SourceConversations:   result.SourceConversations,
		SourceMessages:        result.SourceMessages,
		MigratedConversations: result.MigratedConversations,
		MigratedMessages:      result.MigratedMessages,
		SkippedItems:          result.SkippedItems,
		Errors:                datatypes.JSON(errorsJSON),
		DurationSeconds:       result.DurationSeconds,
		CreatedAt:             time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		s.log.Warn("Failed to record migration run",
			zap.String("operation", result.Operation),
			zap.Error(err),
		)
	}
}

// ListRuns returns the most recent migration runs, newest first
func (s *MigrationService) ListRuns(ctx context.Context, operation string, limit int) ([]models.MigrationRun, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Model(&models.MigrationRun{})
	if operation != "" {
		query = query.Where("operation = ?", operation)
	}

	var runs []models.MigrationRun
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list migration runs: %w", err)
	}
	return runs, nil
}

package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chat-vectorsync/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionMigrationRequest moves all data of one session to another id
type SessionMigrationRequest struct {
	OldSessionID      string
	NewSessionID      string
	UpdateVectorStore bool
}

// MigrateSession re-keys every conversation and message of the old session
// in one transaction. The vector store update runs after the commit and its
// failure never rolls the relational change back.
func (s *MigrationService) MigrateSession(ctx context.Context, req SessionMigrationRequest) (*models.MigrationResult, error) {
	start := time.Now()
	result := newMigrationResult(OperationMigrateSession)

	defer func() {
		result.DurationSeconds = time.Since(start).Seconds()
		s.recordRun(ctx, result)
	}()

	oldID := strings.TrimSpace(req.OldSessionID)
	newID := strings.TrimSpace(req.NewSessionID)
	if oldID == "" || newID == "" {
		result.Errors = append(result.Errors, "old and new session ids are required")
		return result, fmt.Errorf("%w: old and new session ids are required", ErrInvalidSession)
	}
	if oldID == newID {
		result.Errors = append(result.Errors, "old and new session ids are identical")
		return result, fmt.Errorf("%w: old and new session ids are identical", ErrInvalidSession)
	}

	var pointIDs []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conversations []models.Conversation
		if err := tx.Where("session_id = ?", oldID).Find(&conversations).Error; err != nil {
			return fmt.Errorf("failed to load conversations: %w", err)
		}

		var messages []models.Message
		if err := tx.Where("session_id = ?", oldID).Find(&messages).Error; err != nil {
			return fmt.Errorf("failed to load messages: %w", err)
		}

		for _, m := range messages {
			if m.QdrantPointID != nil && *m.QdrantPointID != "" {
				pointIDs = append(pointIDs, *m.QdrantPointID)
			}
		}

		if len(conversations) > 0 {
			if err := tx.Model(&models.Conversation{}).
				Where("session_id = ?", oldID).
				Updates(map[string]interface{}{
					"session_id": newID,
					"updated_at": time.Now().UTC(),
				}).Error; err != nil {
				return fmt.Errorf("failed to migrate conversations: %w", err)
			}
		}

		if len(messages) > 0 {
			if err := tx.Model(&models.Message{}).
				Where("session_id = ?", oldID).
				Update("session_id", newID).Error; err != nil {
				return fmt.Errorf("failed to migrate messages: %w", err)
			}
		}

		result.SourceConversations = len(conversations)
		result.SourceMessages = len(messages)
		result.MigratedConversations = len(conversations)
		result.MigratedMessages = len(messages)
		return nil
	})
	if err != nil {
		result.SourceConversations = 0
		result.SourceMessages = 0
		result.MigratedConversations = 0
		result.MigratedMessages = 0
		result.Errors = append(result.Errors, err.Error())
		s.log.Error("Session migration failed",
			zap.String("old_session_id", oldID),
			zap.String("new_session_id", newID),
			zap.Error(err),
		)
		return result, err
	}

	result.Success = true

	if req.UpdateVectorStore && len(pointIDs) > 0 {
		result.VectorUpdate = s.updateVectorSessions(ctx, pointIDs, oldID, newID)
		if result.VectorUpdate.Error != "" {
			result.Errors = append(result.Errors, "vector store update: "+result.VectorUpdate.Error)
		}
	}

	s.log.Info("Session migrated",
		zap.String("old_session_id", oldID),
		zap.String("new_session_id", newID),
		zap.Int("conversations", result.MigratedConversations),
		zap.Int("messages", result.MigratedMessages),
		zap.Int("point_ids", len(pointIDs)),
	)

	return result, nil
}

func (s *MigrationService) updateVectorSessions(ctx context.Context, pointIDs []string, oldID, newID string) *models.VectorUpdateOutcome {
	outcome := &models.VectorUpdateOutcome{PointIDs: len(pointIDs)}

	if s.vectors == nil {
		outcome.Error = ErrVectorServiceRequired.Error()
		s.log.Warn("Skipping vector store session update", zap.Error(ErrVectorServiceRequired))
		return outcome
	}

	outcome.Attempted = true
	updated, err := s.vectors.UpdateSessionMetadata(ctx, pointIDs, oldID, newID)
	if err != nil {
		outcome.Error = err.Error()
		s.log.Warn("Vector store session update failed",
			zap.String("old_session_id", oldID),
			zap.String("new_session_id", newID),
			zap.Int("point_ids", len(pointIDs)),
			zap.Error(err),
		)
		return outcome
	}
	outcome.UpdatedPoints = updated
	return outcome
}

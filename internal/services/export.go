package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"chat-vectorsync/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TimestampLayout is the timestamp format of export documents
const TimestampLayout = time.RFC3339Nano

// ExportDocument is the portable representation of a backup
type ExportDocument struct {
	Metadata      models.BackupMetadata `json:"metadata"`
	Conversations []ExportConversation  `json:"conversations"`
	Messages      []ExportMessage       `json:"messages"`
}

// ExportConversation is the flat form of a conversation
type ExportConversation struct {
	ConversationID        string  `json:"conversation_id"`
	SessionID             string  `json:"session_id"`
	Username              *string `json:"username"`
	Title                 *string `json:"title"`
	PhilosopherCollection *string `json:"philosopher_collection"`
	CreatedAt             string  `json:"created_at"`
	UpdatedAt             string  `json:"updated_at"`
}

// ExportMessage is the flat form of a message
type ExportMessage struct {
	MessageID             string         `json:"message_id"`
	ConversationID        string         `json:"conversation_id"`
	SessionID             string         `json:"session_id"`
	Username              *string        `json:"username"`
	Role                  string         `json:"role"`
	Content               string         `json:"content"`
	PhilosopherCollection *string        `json:"philosopher_collection"`
	QdrantPointID         *string        `json:"qdrant_point_id"`
	CreatedAt             string         `json:"created_at"`
	VectorData            map[string]any `json:"vector_data,omitempty"`
}

// ExportRequest selects what ExportData writes
type ExportRequest struct {
	OutputPath     string
	SessionIDs     []string // empty exports every session
	IncludeVectors bool
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func flattenConversation(c models.Conversation) ExportConversation {
	return ExportConversation{
		ConversationID:        c.ConversationID,
		SessionID:             c.SessionID,
		Username:              c.Username,
		Title:                 c.Title,
		PhilosopherCollection: c.PhilosopherCollection,
		CreatedAt:             formatTimestamp(c.CreatedAt),
		UpdatedAt:             formatTimestamp(c.UpdatedAt),
	}
}

func flattenMessage(m models.Message) ExportMessage {
	return ExportMessage{
		MessageID:             m.MessageID,
		ConversationID:        m.ConversationID,
		SessionID:             m.SessionID,
		Username:              m.Username,
		Role:                  string(m.Role),
		Content:               m.Content,
		PhilosopherCollection: m.PhilosopherCollection,
		QdrantPointID:         m.QdrantPointID,
		CreatedAt:             formatTimestamp(m.CreatedAt),
	}
}

// ExportData writes every selected conversation and message to a JSON
// document. Vector payload fetch failures are reported but never fatal.
func (s *MigrationService) ExportData(ctx context.Context, req ExportRequest) (*models.MigrationResult, error) {
	start := time.Now()
	result := newMigrationResult(OperationExport)
	result.BackupID = uuid.New().String()
	result.OutputPath = req.OutputPath

	defer func() {
		result.DurationSeconds = time.Since(start).Seconds()
		s.recordRun(ctx, result)
	}()

	if req.OutputPath == "" {
		result.Errors = append(result.Errors, "output path is required")
		return result, fmt.Errorf("%w: output path is required", ErrValidation)
	}

	db := s.db.WithContext(ctx)

	convQuery := db.Order("created_at ASC").Order("id ASC")
	msgQuery := db.Order("created_at ASC").Order("id ASC")
	if len(req.SessionIDs) > 0 {
		convQuery = convQuery.Where("session_id IN ?", req.SessionIDs)
		msgQuery = msgQuery.Where("session_id IN ?", req.SessionIDs)
	}

	var conversations []models.Conversation
	if err := convQuery.Find(&conversations).Error; err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, storeError(ctx, fmt.Errorf("failed to read conversations: %w", err))
	}

	var messages []models.Message
	if err := msgQuery.Find(&messages).Error; err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, storeError(ctx, fmt.Errorf("failed to read messages: %w", err))
	}

	doc := ExportDocument{
		Conversations: make([]ExportConversation, 0, len(conversations)),
		Messages:      make([]ExportMessage, 0, len(messages)),
	}

	sessions := make(map[string]struct{})
	for _, c := range conversations {
		doc.Conversations = append(doc.Conversations, flattenConversation(c))
		sessions[c.SessionID] = struct{}{}
	}

	for _, m := range messages {
		record := flattenMessage(m)
		if req.IncludeVectors && m.QdrantPointID != nil && s.vectors != nil {
			payload, err := s.vectors.FetchPayload(ctx, *m.QdrantPointID)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("message %s: failed to fetch vector payload: %v", m.MessageID, err))
				s.log.Warn("Vector payload fetch failed",
					zap.String("message_id", m.MessageID),
					zap.String("point_id", *m.QdrantPointID),
					zap.Error(err),
				)
			} else {
				record.VectorData = payload
			}
		}
		doc.Messages = append(doc.Messages, record)
		sessions[m.SessionID] = struct{}{}
	}

	sessionIDs := req.SessionIDs
	if len(sessionIDs) == 0 {
		sessionIDs = make([]string, 0, len(sessions))
		for id := range sessions {
			sessionIDs = append(sessionIDs, id)
		}
		sort.Strings(sessionIDs)
	}

	doc.Metadata = models.BackupMetadata{
		BackupID:           result.BackupID,
		CreatedAt:          formatTimestamp(time.Now()),
		SourceEnvironment:  s.cfg.SourceEnvironment,
		TotalConversations: len(doc.Conversations),
		TotalMessages:      len(doc.Messages),
		SessionIDs:         sessionIDs,
		FormatVersion:      models.FormatVersion,
	}

	if err := writeDocumentAtomic(req.OutputPath, &doc); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	result.Success = true
	result.SourceConversations = len(doc.Conversations)
	result.SourceMessages = len(doc.Messages)
	result.MigratedConversations = len(doc.Conversations)
	result.MigratedMessages = len(doc.Messages)

	s.log.Info("Export completed",
		zap.String("backup_id", result.BackupID),
		zap.String("path", req.OutputPath),
		zap.Int("conversations", result.MigratedConversations),
		zap.Int("messages", result.MigratedMessages),
		zap.Int("errors", len(result.Errors)),
	)

	return result, nil
}

// writeDocumentAtomic writes doc next to path and renames it into place
func writeDocumentAtomic(path string, doc *ExportDocument) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tempPath := path + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tempFile.Close()
	defer os.Remove(tempPath) // Clean up temp file on error

	encoder := json.NewEncoder(tempFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode export document: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	// Close temp file before rename
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Atomic rename: temp file → final file
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"chat-vectorsync/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ImportRequest controls how ImportData merges a document
type ImportRequest struct {
	InputPath         string
	OverwriteExisting bool
	Validate          bool
}

var (
	documentKeys             = []string{"metadata", "conversations", "messages"}
	requiredConversationKeys = []string{"conversation_id", "session_id", "created_at", "updated_at"}
	requiredMessageKeys      = []string{"message_id", "conversation_id", "session_id", "role", "content", "created_at"}
)

// Accepted timestamp layouts, most specific first. Zone-less values are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

type importOutcome int

const (
	outcomeCreated importOutcome = iota
	outcomeUpdated
	outcomeSkipped
)

// rawDocument keeps records undecoded so a malformed record only fails itself
type rawDocument struct {
	keys          map[string]json.RawMessage
	conversations []json.RawMessage
	messages      []json.RawMessage
}

func loadDocument(path string) (*rawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}

	doc := &rawDocument{}
	if err := json.Unmarshal(data, &doc.keys); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if raw, ok := doc.keys["conversations"]; ok {
		if err := json.Unmarshal(raw, &doc.conversations); err != nil {
			return nil, fmt.Errorf("conversations must be a list: %w", err)
		}
	}
	if raw, ok := doc.keys["messages"]; ok {
		if err := json.Unmarshal(raw, &doc.messages); err != nil {
			return nil, fmt.Errorf("messages must be a list: %w", err)
		}
	}
	return doc, nil
}

// missingDocumentKeys reports the top-level sections absent from doc
func missingDocumentKeys(doc *rawDocument) []string {
	var problems []string
	for _, key := range documentKeys {
		if _, ok := doc.keys[key]; !ok {
			problems = append(problems, fmt.Sprintf("missing top-level key %q", key))
		}
	}
	return problems
}

// validateDocument checks every record before anything is written
func validateDocument(doc *rawDocument) []string {
	problems := missingDocumentKeys(doc)

	for i, raw := range doc.conversations {
		problems = append(problems, validateRecord(fmt.Sprintf("conversation[%d]", i), raw, requiredConversationKeys)...)
	}

	for i, raw := range doc.messages {
		label := fmt.Sprintf("message[%d]", i)
		problems = append(problems, validateRecord(label, raw, requiredMessageKeys)...)

		var record struct {
			Role *string `json:"role"`
		}
		if err := json.Unmarshal(raw, &record); err == nil && record.Role != nil && !models.Role(*record.Role).Valid() {
			problems = append(problems, fmt.Sprintf("%s: invalid role %q", label, *record.Role))
		}
	}

	return problems
}

func validateRecord(label string, raw json.RawMessage, required []string) []string {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return []string{fmt.Sprintf("%s: not an object", label)}
	}

	var missing []string
	for _, key := range required {
		if value, ok := fields[key]; !ok || value == nil {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return []string{fmt.Sprintf("%s: missing required fields: %s", label, strings.Join(missing, ", "))}
	}
	return nil
}

// ImportData merges an export document into the database. Conversations
// are committed before messages. Validation failures abort with zero
// writes; per-record failures are collected and skipped.
func (s *MigrationService) ImportData(ctx context.Context, req ImportRequest) (*models.MigrationResult, error) {
	start := time.Now()
	result := newMigrationResult(OperationImport)

	defer func() {
		result.DurationSeconds = time.Since(start).Seconds()
		s.recordRun(ctx, result)
	}()

	doc, err := loadDocument(req.InputPath)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	var metadata models.BackupMetadata
	if raw, ok := doc.keys["metadata"]; ok {
		if err := json.Unmarshal(raw, &metadata); err == nil {
			result.BackupID = metadata.BackupID
		}
	}
	result.SourceConversations = len(doc.conversations)
	result.SourceMessages = len(doc.messages)

	problems := missingDocumentKeys(doc)
	if req.Validate {
		problems = validateDocument(doc)
	}
	if len(problems) > 0 {
		result.Errors = append(result.Errors, problems...)
		s.log.Warn("Import document rejected",
			zap.String("path", req.InputPath),
			zap.Int("problems", len(problems)),
		)
		return result, fmt.Errorf("%w: %d problem(s)", ErrValidation, len(problems))
	}

	// Point ids from another environment only hold if their payload is restored
	sameEnvironment := metadata.SourceEnvironment != "" && metadata.SourceEnvironment == s.cfg.SourceEnvironment
	if !sameEnvironment {
		s.log.Info("Importing from another environment, unrestored point ids are dropped",
			zap.String("source_environment", metadata.SourceEnvironment),
			zap.String("environment", s.cfg.SourceEnvironment),
		)
	}

	db := s.db.WithContext(ctx)

	err = db.Transaction(func(tx *gorm.DB) error {
		for i, raw := range doc.conversations {
			savepoint := fmt.Sprintf("conversation_%d", i)
			if err := tx.SavePoint(savepoint).Error; err != nil {
				return fmt.Errorf("failed to create savepoint: %w", err)
			}

			outcome, err := s.importConversation(tx, raw, req.OverwriteExisting)
			if err != nil {
				if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
					return fmt.Errorf("failed to roll back savepoint: %w", rbErr)
				}
				result.Errors = append(result.Errors, fmt.Sprintf("conversation[%d]: %v", i, err))
				continue
			}
			s.tally(result, outcome, true)
		}
		return nil
	})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.MigratedConversations = 0
		result.SkippedItems = 0
		return result, fmt.Errorf("failed to import conversations: %w", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		for i, raw := range doc.messages {
			savepoint := fmt.Sprintf("message_%d", i)
			if err := tx.SavePoint(savepoint).Error; err != nil {
				return fmt.Errorf("failed to create savepoint: %w", err)
			}

			outcome, vectorErr, err := s.importMessage(ctx, tx, raw, req.OverwriteExisting, sameEnvironment)
			if vectorErr != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("message[%d]: %v", i, vectorErr))
			}
			if err != nil {
				if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
					return fmt.Errorf("failed to roll back savepoint: %w", rbErr)
				}
				result.Errors = append(result.Errors, fmt.Sprintf("message[%d]: %v", i, err))
				continue
			}
			s.tally(result, outcome, false)
		}
		return nil
	})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.MigratedMessages = 0
		return result, fmt.Errorf("failed to import messages: %w", err)
	}

	result.Success = true

	s.log.Info("Import completed",
		zap.String("backup_id", result.BackupID),
		zap.String("path", req.InputPath),
		zap.Int("conversations", result.MigratedConversations),
		zap.Int("messages", result.MigratedMessages),
		zap.Int("skipped", result.SkippedItems),
		zap.Int("errors", len(result.Errors)),
	)

	return result, nil
}

func (s *MigrationService) tally(result *models.MigrationResult, outcome importOutcome, conversation bool) {
	switch {
	case outcome == outcomeSkipped:
		result.SkippedItems++
	case conversation:
		result.MigratedConversations++
	default:
		result.MigratedMessages++
	}
}

func (s *MigrationService) importConversation(tx *gorm.DB, raw json.RawMessage, overwrite bool) (importOutcome, error) {
	var record ExportConversation
	if err := json.Unmarshal(raw, &record); err != nil {
		return 0, fmt.Errorf("malformed record: %w", err)
	}
	if record.ConversationID == "" {
		return 0, errors.New("conversation_id is required")
	}

	createdAt, err := parseTimestamp(record.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("created_at: %w", err)
	}
	updatedAt, err := parseTimestamp(record.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("updated_at: %w", err)
	}

	var existing models.Conversation
	err = tx.Where("conversation_id = ?", record.ConversationID).First(&existing).Error
	switch {
	case err == nil:
		if !overwrite {
			return outcomeSkipped, nil
		}
		updates := map[string]interface{}{
			"session_id":             record.SessionID,
			"username":               record.Username,
			"title":                  record.Title,
			"philosopher_collection": record.PhilosopherCollection,
			"updated_at":             updatedAt,
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return 0, fmt.Errorf("failed to update conversation: %w", err)
		}
		return outcomeUpdated, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		conversation := models.Conversation{
			ConversationID:        record.ConversationID,
			SessionID:             record.SessionID,
			Username:              record.Username,
			Title:                 record.Title,
			PhilosopherCollection: record.PhilosopherCollection,
			CreatedAt:             createdAt,
			UpdatedAt:             updatedAt,
		}
		if err := tx.Create(&conversation).Error; err != nil {
			return 0, fmt.Errorf("failed to create conversation: %w", err)
		}
		return outcomeCreated, nil
	default:
		return 0, fmt.Errorf("failed to look up conversation: %w", err)
	}
}

// importMessage writes one message. The vector payload goes first; if it
// cannot be restored the point id is dropped so the batch pipeline
// re-embeds the message. A point id without a restored payload is only
// kept when the document comes from this environment's own vector store.
// vectorErr never fails the relational write.
func (s *MigrationService) importMessage(ctx context.Context, tx *gorm.DB, raw json.RawMessage, overwrite, sameEnvironment bool) (outcome importOutcome, vectorErr error, err error) {
	var record ExportMessage
	if err := json.Unmarshal(raw, &record); err != nil {
		return 0, nil, fmt.Errorf("malformed record: %w", err)
	}
	if record.MessageID == "" {
		return 0, nil, errors.New("message_id is required")
	}

	role := models.Role(record.Role)
	if !role.Valid() {
		return 0, nil, fmt.Errorf("invalid role %q", record.Role)
	}
	createdAt, err := parseTimestamp(record.CreatedAt)
	if err != nil {
		return 0, nil, fmt.Errorf("created_at: %w", err)
	}

	var existing models.Message
	err = tx.Where("message_id = ?", record.MessageID).First(&existing).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil, fmt.Errorf("failed to look up message: %w", err)
	}
	if found && !overwrite {
		return outcomeSkipped, nil, nil
	}

	pointID := record.QdrantPointID
	restored := false
	if len(record.VectorData) > 0 && pointID != nil && s.vectors != nil {
		err := s.vectors.ImportPayload(ctx, *pointID, record.VectorData)
		restored = err == nil
		if err != nil {
			vectorErr = fmt.Errorf("failed to import vector payload: %w", err)
			s.log.Warn("Vector payload import failed",
				zap.String("message_id", record.MessageID),
				zap.String("point_id", *pointID),
				zap.Error(err),
			)
			pointID = nil
		}
	}
	if !restored && !sameEnvironment {
		pointID = nil
	}

	if found {
		updates := map[string]interface{}{
			"session_id":             record.SessionID,
			"username":               record.Username,
			"role":                   role,
			"content":                record.Content,
			"philosopher_collection": record.PhilosopherCollection,
			"qdrant_point_id":        pointID,
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return 0, vectorErr, fmt.Errorf("failed to update message: %w", err)
		}
		return outcomeUpdated, vectorErr, nil
	}

	message := models.Message{
		MessageID:             record.MessageID,
		ConversationID:        record.ConversationID,
		SessionID:             record.SessionID,
		Username:              record.Username,
		Role:                  role,
		Content:               record.Content,
		PhilosopherCollection: record.PhilosopherCollection,
		QdrantPointID:         pointID,
		CreatedAt:             createdAt,
	}
	if err := tx.Create(&message).Error; err != nil {
		return 0, vectorErr, fmt.Errorf("failed to create message: %w", err)
	}
	return outcomeCreated, vectorErr, nil
}

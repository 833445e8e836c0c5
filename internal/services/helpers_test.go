package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chat-vectorsync/internal/config"
	"chat-vectorsync/internal/database"
	"chat-vectorsync/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// mockVectorService for testing
type mockVectorService struct {
	uploadFunc                func(ctx context.Context, msg *models.Message) (string, error)
	fetchPayloadFunc          func(ctx context.Context, pointID string) (map[string]any, error)
	importPayloadFunc         func(ctx context.Context, pointID string, payload map[string]any) error
	updateSessionMetadataFunc func(ctx context.Context, pointIDs []string, oldSession, newSession string) (int, error)

	mu       sync.Mutex
	uploaded []string
	imported map[string]map[string]any
}

func (m *mockVectorService) Upload(ctx context.Context, msg *models.Message) (string, error) {
	m.mu.Lock()
	m.uploaded = append(m.uploaded, msg.MessageID)
	m.mu.Unlock()

	if m.uploadFunc != nil {
		return m.uploadFunc(ctx, msg)
	}
	return "point-" + msg.MessageID, nil
}

func (m *mockVectorService) FetchPayload(ctx context.Context, pointID string) (map[string]any, error) {
	if m.fetchPayloadFunc != nil {
		return m.fetchPayloadFunc(ctx, pointID)
	}
	return map[string]any{"point_id": pointID, "vector": []any{0.1, 0.2}}, nil
}

func (m *mockVectorService) ImportPayload(ctx context.Context, pointID string, payload map[string]any) error {
	if m.importPayloadFunc != nil {
		return m.importPayloadFunc(ctx, pointID, payload)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.imported == nil {
		m.imported = make(map[string]map[string]any)
	}
	m.imported[pointID] = payload
	return nil
}

func (m *mockVectorService) UpdateSessionMetadata(ctx context.Context, pointIDs []string, oldSession, newSession string) (int, error) {
	if m.updateSessionMetadataFunc != nil {
		return m.updateSessionMetadataFunc(ctx, pointIDs, oldSession, newSession)
	}
	return len(pointIDs), nil
}

func (m *mockVectorService) uploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploaded)
}

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Driver:          "sqlite",
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)

	cleanup := func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
	return db, cleanup
}

func testBatchConfig() config.BatchConfig {
	return config.BatchConfig{
		ChunkSize:        100,
		MaxConcurrency:   5,
		MaxResultsGuard:  50000,
		WriteBackRetries: 3,
		WriteBackDelay:   time.Millisecond,
	}
}

var seedBase = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// seedSession creates one conversation with count messages, one second apart
func seedSession(t *testing.T, db *gorm.DB, sessionID string, count int) models.Conversation {
	t.Helper()

	title := "Conversation " + sessionID
	conversation := models.Conversation{
		ConversationID: "conv-" + sessionID,
		SessionID:      sessionID,
		Title:          &title,
		CreatedAt:      seedBase,
		UpdatedAt:      seedBase,
	}
	require.NoError(t, db.Create(&conversation).Error)

	messages := make([]models.Message, count)
	for i := range messages {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		messages[i] = models.Message{
			MessageID:      fmt.Sprintf("%s-msg-%04d", sessionID, i),
			ConversationID: conversation.ConversationID,
			SessionID:      sessionID,
			Role:           role,
			Content:        fmt.Sprintf("message %d of %s", i, sessionID),
			CreatedAt:      seedBase.Add(time.Duration(i) * time.Second),
		}
	}
	if count > 0 {
		require.NoError(t, db.CreateInBatches(messages, 100).Error)
	}
	return conversation
}

func countLinked(t *testing.T, db *gorm.DB, sessionID string) int64 {
	t.Helper()
	var n int64
	query := db.Model(&models.Message{}).Where("qdrant_point_id IS NOT NULL")
	if sessionID != "" {
		query = query.Where("session_id = ?", sessionID)
	}
	require.NoError(t, query.Count(&n).Error)
	return n
}

func intPtr(v int) *int {
	return &v
}

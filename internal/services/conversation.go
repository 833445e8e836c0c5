package services

import (
	"context"
	"errors"
	"fmt"

	"chat-vectorsync/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrConversationNotFound is returned when no conversation has the given id
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationService provides read access to stored conversations
type ConversationService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewConversationService creates a new conversation service
func NewConversationService(db *gorm.DB, log *zap.Logger) *ConversationService {
	return &ConversationService{
		db:  db,
		log: log,
	}
}

// List returns one page of conversations, newest first
func (s *ConversationService) List(ctx context.Context, sessionID string, page, limit int) ([]models.Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	query := s.db.WithContext(ctx).Model(&models.Conversation{})
	if sessionID != "" {
		query = query.Where("session_id = ?", sessionID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	var conversations []models.Conversation
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&conversations).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	return conversations, total, nil
}

// Get returns a conversation with its messages in chronological order
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conversation models.Conversation
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("id ASC")
		}).
		Where("conversation_id = ?", conversationID).
		First(&conversation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conversation, nil
}

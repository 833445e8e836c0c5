package services

import (
	"context"
	"fmt"
	"time"

	"chat-vectorsync/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultChunkSize is used when a caller passes a chunk size below 1
const DefaultChunkSize = 100

// NoLimit disables the maxResults cap of a stream
const NoLimit = -1

// MessageFilter selects the messages a batch run covers
type MessageFilter struct {
	SessionID   string
	MissingOnly bool // only messages without a qdrant point id
}

// MessageSelector builds filtered, deterministically ordered message queries
type MessageSelector struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewMessageSelector creates a new message selector
func NewMessageSelector(db *gorm.DB, log *zap.Logger) *MessageSelector {
	return &MessageSelector{
		db:  db,
		log: log,
	}
}

func (s *MessageSelector) query(ctx context.Context, filter MessageFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Message{})
	if filter.SessionID != "" {
		query = query.Where("session_id = ?", filter.SessionID)
	}
	if filter.MissingOnly {
		query = query.Where("qdrant_point_id IS NULL")
	}
	return query
}

// Count returns the number of messages matching filter
func (s *MessageSelector) Count(ctx context.Context, filter MessageFilter) (int64, error) {
	var total int64
	if err := s.query(ctx, filter).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return total, nil
}

// Stream returns a pull iterator over the matching messages ordered by
// created_at then id. At most maxResults rows are yielded (NoLimit for all).
func (s *MessageSelector) Stream(filter MessageFilter, chunkSize, maxResults int) *ChunkIterator {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkIterator{
		selector:   s,
		filter:     filter,
		chunkSize:  chunkSize,
		maxResults: maxResults,
	}
}

// ChunkIterator yields messages one chunk at a time. It keeps only the
// keyset cursor between calls, never more than one chunk of rows.
// Not restartable; call Stream again to start over.
type ChunkIterator struct {
	selector   *MessageSelector
	filter     MessageFilter
	chunkSize  int
	maxResults int

	yielded   int
	done      bool
	hasCursor bool
	lastAt    time.Time
	lastID    uint
}

// Next returns the next chunk, or nil once the stream is exhausted
func (it *ChunkIterator) Next(ctx context.Context) ([]models.Message, error) {
	if it.done {
		return nil, nil
	}

	limit := it.chunkSize
	if it.maxResults >= 0 {
		remaining := it.maxResults - it.yielded
		if remaining <= 0 {
			it.done = true
			return nil, nil
		}
		if remaining < limit {
			limit = remaining
		}
	}

	query := it.selector.query(ctx, it.filter)
	if it.hasCursor {
		// Keyset pagination stays correct while write-backs flip
		// qdrant_point_id on rows already behind the cursor.
		query = query.Where("(created_at > ?) OR (created_at = ? AND id > ?)", it.lastAt.UTC(), it.lastAt.UTC(), it.lastID)
	}

	var chunk []models.Message
	if err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&chunk).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch message chunk: %w", err)
	}

	if len(chunk) == 0 {
		it.done = true
		return nil, nil
	}

	last := chunk[len(chunk)-1]
	it.lastAt = last.CreatedAt
	it.lastID = last.ID
	it.hasCursor = true
	it.yielded += len(chunk)

	if len(chunk) < limit {
		it.done = true
	}

	return chunk, nil
}

// Yielded returns the number of messages returned so far
func (it *ChunkIterator) Yielded() int {
	return it.yielded
}

// ApplyGuard clamps total to guard. A nil guard disables clamping.
func ApplyGuard(total int, guard *int) (target int, clamped bool) {
	if guard == nil || total <= *guard {
		return total, false
	}
	if *guard < 0 {
		return 0, true
	}
	return *guard, true
}

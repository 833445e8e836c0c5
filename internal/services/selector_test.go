package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chat-vectorsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func drain(t *testing.T, it *ChunkIterator) [][]models.Message {
	t.Helper()
	var chunks [][]models.Message
	for {
		chunk, err := it.Next(context.Background())
		require.NoError(t, err)
		if chunk == nil {
			return chunks
		}
		chunks = append(chunks, chunk)
	}
}

func chunkSizes(chunks [][]models.Message) []int {
	sizes := make([]int, len(chunks))
	for i, c := range chunks {
		sizes[i] = len(c)
	}
	return sizes
}

func TestMessageSelector_ChunkingBound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	seedSession(t, db, "s1", 250)
	selector := NewMessageSelector(db, zap.NewNop())

	chunks := drain(t, selector.Stream(MessageFilter{}, 100, NoLimit))
	assert.Equal(t, []int{100, 100, 50}, chunkSizes(chunks))

	// Ordered by created_at, no duplicates across chunks
	seen := make(map[string]bool)
	var previous models.Message
	for _, chunk := range chunks {
		for _, m := range chunk {
			assert.False(t, seen[m.MessageID], "duplicate %s", m.MessageID)
			seen[m.MessageID] = true
			if previous.ID != 0 {
				assert.False(t, m.CreatedAt.Before(previous.CreatedAt))
			}
			previous = m
		}
	}
	assert.Len(t, seen, 250)
}

func TestMessageSelector_MaxResultsTruncatesFinalChunk(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	seedSession(t, db, "s1", 250)
	selector := NewMessageSelector(db, zap.NewNop())

	it := selector.Stream(MessageFilter{}, 100, 130)
	assert.Equal(t, []int{100, 30}, chunkSizes(drain(t, it)))
	assert.Equal(t, 130, it.Yielded())

	assert.Empty(t, drain(t, selector.Stream(MessageFilter{}, 100, 0)))
}

func TestMessageSelector_Filters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedSession(t, db, "s1", 10)
	seedSession(t, db, "s2", 5)
	require.NoError(t, db.Model(&models.Message{}).
		Where("message_id IN ?", []string{"s1-msg-0000", "s1-msg-0001"}).
		Update("qdrant_point_id", "linked").Error)

	selector := NewMessageSelector(db, zap.NewNop())

	tests := []struct {
		name   string
		filter MessageFilter
		want   int64
	}{
		{"all", MessageFilter{}, 15},
		{"session", MessageFilter{SessionID: "s2"}, 5},
		{"missing only", MessageFilter{MissingOnly: true}, 13},
		{"session and missing", MessageFilter{SessionID: "s1", MissingOnly: true}, 8},
		{"unknown session", MessageFilter{SessionID: "nope"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, err := selector.Count(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)

			var streamed int64
			for _, chunk := range drain(t, selector.Stream(tt.filter, 4, NoLimit)) {
				for _, m := range chunk {
					if tt.filter.SessionID != "" {
						assert.Equal(t, tt.filter.SessionID, m.SessionID)
					}
					if tt.filter.MissingOnly {
						assert.Nil(t, m.QdrantPointID)
					}
				}
				streamed += int64(len(chunk))
			}
			assert.Equal(t, tt.want, streamed)
		})
	}
}

func TestChunkIterator_StableWhileRowsAreLinked(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedSession(t, db, "s1", 25)
	selector := NewMessageSelector(db, zap.NewNop())
	it := selector.Stream(MessageFilter{MissingOnly: true}, 10, NoLimit)

	var total int
	for {
		chunk, err := it.Next(ctx)
		require.NoError(t, err)
		if chunk == nil {
			break
		}
		// Linking rows shrinks the eligible set under the cursor
		for _, m := range chunk {
			require.NoError(t, db.Model(&models.Message{}).Where("id = ?", m.ID).Update("qdrant_point_id", "p").Error)
		}
		total += len(chunk)
	}
	assert.Equal(t, 25, total)
}

func TestChunkIterator_SameTimestampTieBreak(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conv := seedSession(t, db, "s1", 0)
	for i := 0; i < 7; i++ {
		require.NoError(t, db.Create(&models.Message{
			MessageID:      "same-" + string(rune('a'+i)),
			ConversationID: conv.ConversationID,
			SessionID:      "s1",
			Role:           models.RoleUser,
			Content:        "tick",
			CreatedAt:      seedBase,
		}).Error)
	}

	chunks := drain(t, NewMessageSelector(db, zap.NewNop()).Stream(MessageFilter{}, 3, NoLimit))
	assert.Equal(t, []int{3, 3, 1}, chunkSizes(chunks))
}

func TestMessageSelector_DefaultChunkSize(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	seedSession(t, db, "s1", 150)
	chunks := drain(t, NewMessageSelector(db, zap.NewNop()).Stream(MessageFilter{}, 0, NoLimit))
	assert.Equal(t, []int{DefaultChunkSize, 50}, chunkSizes(chunks))
}

func TestApplyGuard(t *testing.T) {
	tests := []struct {
		name        string
		total       int
		guard       *int
		wantTarget  int
		wantClamped bool
	}{
		{"disabled", 100000, nil, 100000, false},
		{"under guard", 10, intPtr(50), 10, false},
		{"equal to guard", 50, intPtr(50), 50, false},
		{"clamped", 100, intPtr(10), 10, true},
		{"clamped to zero", 100, intPtr(0), 0, true},
		{"negative guard", 5, intPtr(-1), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, clamped := ApplyGuard(tt.total, tt.guard)
			assert.Equal(t, tt.wantTarget, target)
			assert.Equal(t, tt.wantClamped, clamped)
		})
	}
}

func TestMessageSelector_MixedOffsetsStreamByInstant(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	seedSession(t, db, "s1", 0)
	plusFive := time.FixedZone("UTC+5", 5*60*60)
	for i := 0; i < 6; i++ {
		createdAt := seedBase.Add(time.Duration(i) * time.Hour)
		if i%2 == 1 {
			createdAt = createdAt.In(plusFive)
		}
		require.NoError(t, db.Create(&models.Message{
			MessageID:      fmt.Sprintf("m%d", i),
			ConversationID: "conv-s1",
			SessionID:      "s1",
			Role:           models.RoleUser,
			Content:        "x",
			CreatedAt:      createdAt,
		}).Error)
	}

	selector := NewMessageSelector(db, zap.NewNop())
	var order []string
	for _, chunk := range drain(t, selector.Stream(MessageFilter{}, 2, NoLimit)) {
		for _, m := range chunk {
			order = append(order, m.MessageID)
		}
	}
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4", "m5"}, order)
}

package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConversationService_List(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for _, session := range []string{"a", "b", "c"} {
		seedSession(t, db, session, 1)
	}
	svc := NewConversationService(db, zap.NewNop())

	all, total, err := svc.List(ctx, "", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 2)

	page2, _, err := svc.List(ctx, "", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 1)

	filtered, total, err := svc.List(ctx, "b", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, filtered, 1)
	assert.Equal(t, "conv-b", filtered[0].ConversationID)
}

func TestConversationService_Get(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedSession(t, db, "s1", 5)
	svc := NewConversationService(db, zap.NewNop())

	conv, err := svc.Get(ctx, "conv-s1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 5)
	for i := 1; i < len(conv.Messages); i++ {
		assert.True(t, conv.Messages[i].CreatedAt.After(conv.Messages[i-1].CreatedAt))
	}

	_, err = svc.Get(ctx, "conv-missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chat-vectorsync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	return config.DatabaseConfig{
		Driver:          "sqlite",
		Path:            filepath.Join(t.TempDir(), "nested", "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	db, err := Open(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	for _, table := range []string{"conversations", "messages", "migration_runs"} {
		assert.True(t, db.Migrator().HasTable(table), "table %s should exist", table)
	}
	assert.True(t, db.Migrator().HasIndex("messages", "idx_messages_created_id"))
	assert.NoError(t, Ping(db))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Driver = "oracle"

	_, err := Open(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestRetryWithBackoff(t *testing.T) {
	locked := errors.New("database is locked")

	t.Run("retries lock errors until success", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(5, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return locked
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(3, time.Millisecond, func() error {
			calls++
			return locked
		})
		assert.ErrorIs(t, err, locked)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		other := errors.New("constraint failed")
		calls := 0
		err := RetryWithBackoff(5, time.Millisecond, func() error {
			calls++
			return other
		})
		assert.ErrorIs(t, err, other)
		assert.Equal(t, 1, calls)
	})
}

func TestIsDatabaseLocked(t *testing.T) {
	assert.False(t, IsDatabaseLocked(nil))
	assert.True(t, IsDatabaseLocked(errors.New("database is locked (5)")))
	assert.True(t, IsDatabaseLocked(errors.New("database table is locked: messages")))
	assert.False(t, IsDatabaseLocked(errors.New("no such table")))
}

package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chat-vectorsync/internal/config"
	"chat-vectorsync/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// ErrUnavailable is returned when the database cannot be reached
var ErrUnavailable = errors.New("database unavailable")

// Initialize opens the process-wide connection, runs migrations and prepares
// the export directory
func Initialize(cfg *config.Config, log *zap.Logger) error {
	db, err := Open(cfg.Database, log)
	if err != nil {
		return err
	}
	DB = db

	if err := initializeDirectories(cfg, log); err != nil {
		return fmt.Errorf("failed to initialize directories: %w", err)
	}

	return nil
}

// Open connects to the configured database and runs migrations
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // We'll use zap for logging
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %v", ErrUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("%w: ping failed: %v", ErrUnavailable, err)
	}

	if cfg.Driver == "sqlite" {
		// WAL lets the streamer read while write-backs commit
		if err := db.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	if err := runMigrations(db, log); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database initialized successfully",
		zap.String("driver", cfg.Driver),
		zap.String("path", cfg.Path),
	)
	return db, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "." && dbDir != "" {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.Open(cfg.Path), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// runMigrations runs database migrations
func runMigrations(db *gorm.DB, log *zap.Logger) error {
	models := []interface{}{
		&models.Conversation{},
		&models.Message{},
		&models.MigrationRun{},
	}

	for _, model := range models {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate model %T: %w", model, err)
		}
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Info("Database migrations completed")
	return nil
}

// createIndexes creates composite indexes that GORM doesn't create automatically
func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Keyset pagination of the batch streamer
		"CREATE INDEX IF NOT EXISTS idx_messages_created_id ON messages(created_at, id)",

		// Session-scoped selection of unsynced messages
		"CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)",

		"CREATE INDEX IF NOT EXISTS idx_conversations_session_created ON conversations(session_id, created_at)",
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// initializeDirectories creates all required data directories
func initializeDirectories(cfg *config.Config, log *zap.Logger) error {
	dirs := []string{
		cfg.Migration.ExportDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		// Verify write permissions
		testFile := filepath.Join(dir, ".write_test")
		if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
			return fmt.Errorf("directory %s is not writable: %w", dir, err)
		}
		os.Remove(testFile)

		log.Info("Directory initialized", zap.String("path", dir))
	}

	return nil
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Ping checks that the database answers
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RetryWithBackoff retries a database operation with exponential backoff
func RetryWithBackoff(maxRetries int, initialDelay time.Duration, fn func() error) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Only lock contention is worth retrying
		if IsDatabaseLocked(err) && i < maxRetries-1 {
			time.Sleep(delay)
			delay *= 2
			continue
		}

		return err
	}

	return err
}

// IsDatabaseLocked checks if the error is a database locked error
func IsDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database locked") ||
		strings.Contains(errStr, "database table is locked")
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHATSYNC_DB_PATH", t.TempDir()+"/chatsync.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 100, cfg.Batch.ChunkSize)
	assert.Equal(t, 5, cfg.Batch.MaxConcurrency)
	require.NotNil(t, cfg.Batch.Guard())
	assert.Equal(t, 50000, *cfg.Batch.Guard())
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:8080"}, cfg.Server.AllowedOrigins)
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("CHATSYNC_DB_PATH", t.TempDir()+"/chatsync.db")
	t.Setenv("CHATSYNC_CORS_ORIGINS", "https://ops.example.com, ,https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://ops.example.com", "https://admin.example.com"}, cfg.Server.AllowedOrigins)
}

func TestLoad_GuardDisabled(t *testing.T) {
	t.Setenv("CHATSYNC_DB_PATH", t.TempDir()+"/chatsync.db")

	for _, value := range []string{"none", "off", "-1"} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("CHATSYNC_MAX_RESULTS_GUARD", value)
			cfg, err := Load()
			require.NoError(t, err)
			assert.Nil(t, cfg.Batch.Guard())
		})
	}
}

func TestLoad_GuardOverride(t *testing.T) {
	t.Setenv("CHATSYNC_DB_PATH", t.TempDir()+"/chatsync.db")
	t.Setenv("CHATSYNC_MAX_RESULTS_GUARD", "10")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Batch.Guard())
	assert.Equal(t, 10, *cfg.Batch.Guard())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			Batch:    BatchConfig{ChunkSize: 100, MaxConcurrency: 5},
			Vector:   VectorConfig{Enabled: true, Collection: "c", VectorSize: 3},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "low port", mutate: func(c *Config) { c.Server.Port = 80 }, wantErr: "port"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "unsupported database driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: "CHATSYNC_DB_DSN"},
		{name: "zero chunk", mutate: func(c *Config) { c.Batch.ChunkSize = 0 }, wantErr: "chunk size"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Batch.MaxConcurrency = 0 }, wantErr: "concurrency"},
		{name: "missing collection", mutate: func(c *Config) { c.Vector.Collection = "" }, wantErr: "collection"},
		{name: "vector disabled skips checks", mutate: func(c *Config) { c.Vector = VectorConfig{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

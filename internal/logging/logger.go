package logging

import (
	"fmt"
	"strings"

	"chat-vectorsync/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger from configuration
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console", "text":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	zc.Level = zap.NewAtomicLevelAt(level)

	output := cfg.Output
	if output == "" {
		output = "stdout"
	}
	zc.OutputPaths = []string{output}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

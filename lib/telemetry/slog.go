package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type LogConfig struct {
	// debug, info, warn or error
	Level string `json:"level"`
	// text or json
	Format string `json:"format"`
}

// NewLogger builds the process logger, it is created once at startup and
// handed to every component.
func NewLogger(w io.Writer, config LogConfig) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "", "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", config.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(config.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", config.Format)
	}
}

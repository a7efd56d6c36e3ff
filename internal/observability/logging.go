package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures the process-wide structured logger.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string `yaml:"level"`

	// Format specifies output format: "json" or "text"
	// JSON format is recommended for production; text for development
	Format string `yaml:"format"`

	// Output is the writer for log output (defaults to os.Stderr)
	Output io.Writer `yaml:"-"`

	// AddSource includes file and line number in log records
	AddSource bool `yaml:"add_source"`
}

// NewLogger builds a slog.Logger from the configuration. Components
// derive their own loggers from it with With("component", ...).
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	if config.Format == "" {
		config.Format = "json"
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}
	return slog.New(handler)
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

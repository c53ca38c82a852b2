package backend

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the package-level structured logger.
// All backend code should use this instead of fmt.Printf.
var Logger = slog.Default()

// ParseLogLevel maps "debug", "info", "warn" or "error" to a slog level.
// Anything else is info.
func ParseLogLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a text or JSON logger writing to w.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// InitLogger initialises the slog default logger.
// The LOG_LEVEL and LOG_FORMAT environment variables override the arguments.
func InitLogger(logLevel string) {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		logLevel = env
	}

	logger := NewLogger(os.Stdout, ParseLogLevel(logLevel), os.Getenv("LOG_FORMAT"))
	slog.SetDefault(logger)
	Logger = logger
}

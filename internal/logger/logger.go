// Package logger initializes the process-wide slog logger from config.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// L is the configured root logger. Init must run before use.
var L = slog.Default()

// Init builds the root logger with the given level and format ("text" or
// "json") and installs it as the slog default.
func Init(level, format string) {
	var leveler slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		leveler = slog.LevelDebug
	case "warn", "warning":
		leveler = slog.LevelWarn
	case "error":
		leveler = slog.LevelError
	default:
		leveler = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: leveler}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	L = slog.New(handler)
	slog.SetDefault(L)
}

package config

import (
	"io"
	"log/slog"
)

// NewLogger builds the JSON logger used by every binary and installs it as the default.
func NewLogger(w io.Writer, level slog.Level, service string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).With("service", service)
	slog.SetDefault(logger)
	return logger
}

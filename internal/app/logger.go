package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger: text for local development, JSON when
// the deployment's log collector expects it. Source locations are attached so
// reconcile failures point at the engine that raised them.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

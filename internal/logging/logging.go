// Package logging configures the process-wide slog loggers.
// Structured JSON goes to stdout for log shippers; callers obtain
// service-scoped loggers via ForService so every line carries its origin.
package logging

import (
	"log/slog"
	"os"
	"sync"
)

var (
	initOnce sync.Once
	levelVar slog.LevelVar
)

// Init initializes the logging system. JSON output is used when json is
// true (the serve path); a text handler otherwise (tests, local runs).
// Safe to call more than once; only the first call configures handlers.
func Init(level slog.Level, json bool) {
	initOnce.Do(func() {
		levelVar.Set(level)

		opts := &slog.HandlerOptions{Level: &levelVar}
		var handler slog.Handler
		if json {
			handler = slog.NewJSONHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	})
}

// SetLevel changes the minimum level of the default loggers at runtime.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// ForService returns a logger scoped to a pipeline component,
// e.g. ForService("transcribe") or ForService("chunker").
func ForService(name string) *slog.Logger {
	return slog.Default().With("service", name)
}

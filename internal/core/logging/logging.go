// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures a global slog logger. JSON if GLAS_JSON_LOG=1/true/json, text otherwise.
func Init(service string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("GLAS_JSON_LOG"))
	json := mode == "1" || mode == "true" || mode == "json"

	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", json)
	return logger
}

// WithDBSink wraps a logger's handler with one that also forwards records to sink.
func WithDBSink(logger *slog.Logger, sink *DBSink) *slog.Logger {
	return slog.New(&teeHandler{primary: logger.Handler(), sink: sink})
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("GLAS_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

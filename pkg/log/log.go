package log

import (
	"log/slog"
	"os"
)

// Setup installs the process-wide slog default at the given level.
func Setup(logLevel string) {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule returns a logger scoped to one module of the service.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

// WithCall returns a logger carrying the identity of one live call.
func WithCall(logger *slog.Logger, callID, flowID string) *slog.Logger {
	return logger.With("call_id", callID, "flow_id", flowID)
}

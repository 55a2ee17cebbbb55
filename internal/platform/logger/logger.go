package logger

import (
	"log/slog"
	"os"
)

// New returns the root structured logger. JSON output so log pipelines can
// index reason codes for fraud investigation.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

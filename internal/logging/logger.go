package logging

import (
	"log/slog"
	"os"
)

// Setup initializes the global slog logger with JSON output to stdout.
// Development environments also get debug records.
func Setup(env string) {
	slog.SetDefault(slog.New(StdoutHandler(env)))
}

// StdoutHandler is the JSON handler Setup installs.
func StdoutHandler(env string) slog.Handler {
	level := slog.LevelInfo
	if env == "development" {
		level = slog.LevelDebug
	}
	return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
}

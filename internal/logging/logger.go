package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	Level     string
	Writer    io.Writer
	Component string
}

// NewLogger builds the JSON slog logger shared by the runtime. Every
// component gets its own logger via Options.Component so log lines are
// attributable without grepping call sites.
func NewLogger(opts Options) *slog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: parseLevel(opts.Level)})
	lg := slog.New(handler)
	if component := strings.TrimSpace(opts.Component); component != "" {
		lg = lg.With("component", component)
	}
	return lg
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

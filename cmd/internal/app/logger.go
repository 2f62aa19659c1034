package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates the process logger: the pretty handler when stdout is a
// terminal, JSON otherwise.
func NewLogger(level string) *slog.Logger {
	pretty := term.IsTerminal(int(os.Stdout.Fd()))
	log := newLoggerTo(os.Stdout, level, pretty, pretty && os.Getenv("NO_COLOR") == "")
	slog.SetDefault(log)
	return log
}

func newLoggerTo(w io.Writer, level string, pretty, color bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: true,
	}
	if pretty {
		return slog.New(newPrettyHandler(w, opts, color))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
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

// Package agentlog builds the agent's structured logger on log/slog,
// grouping field keys by concern (link, dispatch, supervisor, registry) the
// same way dittofs's internal/logger groups keys by NFS/SMB concern, and
// selecting a handler/sink from the resolved configuration record (§6, §10).
package agentlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the handler format and output sink. Level is one of
// debug/info/warn/error (case-insensitive); Sink is "stdout", "stderr", or
// a file path, matching the Logging record in internal/config.
type Config struct {
	Level  string
	Format string // "text" or "json"; defaults to "text"
	Sink   string
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openSink(sink string) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(sink)) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(sink, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("agentlog: open sink %q: %w", sink, err)
		}
		return f, nil
	}
}

// New builds a *slog.Logger from cfg. An unreadable file sink falls back to
// stderr rather than leaving the agent without diagnostics.
func New(cfg Config) *slog.Logger {
	w, err := openSink(cfg.Sink)
	if err != nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

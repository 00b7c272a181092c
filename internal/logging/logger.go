// Package logging provides the daemon's two kinds of log output: operational
// diagnostics via log/slog (this file), and the per-rule check/action record
// streams in record.go and trim.go.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds a structured operational logger for the daemon's own
// lifecycle events (startup, lease state, reload, shutdown) — distinct from
// the check/action record streams, which use Writer/Record in record.go.
func NewLogger(format string, level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// WithRuleID returns a logger with the rule id attached to every record.
func WithRuleID(logger *slog.Logger, ruleID int) *slog.Logger {
	return logger.With("rule_id", ruleID)
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace is a custom log level below Debug for wire-level forensics.
const LevelTrace = slog.Level(-8)

// levelOff is above any real slog level; NewHandler wraps the base
// handler so nothing at or above it is ever reported enabled, which
// is how "off" suppresses all output without a sentinel level value
// flowing through ordinary log call sites.
const levelOff = slog.Level(1 << 20)

// ParseLogLevel converts a string to a slog.Level. Supported values:
// off, error, warn, info, debug, trace (case-insensitive). Empty
// defaults to warn, matching the CLI's default.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "off":
		return levelOff, nil
	case "error":
		return slog.LevelError, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	default:
		return slog.LevelWarn, fmt.Errorf("unknown log level %q (valid: off, error, warn, info, debug, trace)", s)
	}
}

// ReplaceLogLevelNames customizes the level name for Trace in log output.
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// disabledHandler reports every record as disabled, realizing the
// "off" level.
type disabledHandler struct{ slog.Handler }

func (disabledHandler) Enabled(context.Context, slog.Level) bool { return false }

// NewHandler wraps inner so that it is silenced entirely when level
// is the "off" sentinel; otherwise inner is returned unchanged since
// the slog.Handler itself already filters by level.
func NewHandler(inner slog.Handler, level slog.Level) slog.Handler {
	if level == levelOff {
		return disabledHandler{inner}
	}
	return inner
}

// Package logging builds the structured logger used by lmsctl.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redacted replaces values that look like bearer tokens.
const redacted = "[REDACTED]"

// New returns a slog.Logger writing to w. level is one of debug, info, warn
// or error (default info); format is json or text (default text). A nil w
// writes to stderr.
func New(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redactTokens,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Init builds a logger with New and installs it as the slog default.
func Init(level, format string, w io.Writer) *slog.Logger {
	logger := New(level, format, w)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
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

// redactTokens hides attributes named like credentials and any string value
// shaped like a compact JWT.
func redactTokens(_ []string, a slog.Attr) slog.Attr {
	switch strings.ToLower(a.Key) {
	case "token", "jwt", "password", "authorization":
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindString && looksLikeJWT(a.Value.String()) {
		return slog.String(a.Key, redacted)
	}
	return a
}

func looksLikeJWT(s string) bool {
	s = strings.TrimPrefix(s, "Bearer ")
	return strings.HasPrefix(s, "eyJ") && strings.Count(s, ".") == 2
}

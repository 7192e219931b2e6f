package log

import (
	"io"
	"log/slog"
	"strings"
)

// sensitiveKeys are attribute keys whose values are reduced to a prefix.
var sensitiveKeys = map[string]bool{
	"access_token":        true,
	"refresh_token":       true,
	"client_secret":       true,
	"consumer_secret":     true,
	"access_token_secret": true,
	"code_verifier":       true,
	"authorization":       true,
}

// NewConsoleHandler creates a handler that writes to the given writer.
// Format can be "text" or "json".
func NewConsoleHandler(w io.Writer, cfg *Config, level slog.Level) slog.Handler {
	return newHandler(w, cfg.Format, level)
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if !sensitiveKeys[strings.ToLower(a.Key)] || a.Value.Kind() != slog.KindString {
		return a
	}
	return slog.String(a.Key, Mask(a.Value.String()))
}

// Mask keeps the first six characters of a secret.
func Mask(s string) string {
	if len(s) <= 6 {
		return "******"
	}
	return s[:6] + "..."
}

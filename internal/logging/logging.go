// Package logging configures the process-wide slog default from
// configuration and guards the output against log injection: messages and
// string attributes are flattened to one line, and credential-bearing keys
// are redacted.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"
)

// Config selects where and how the process logs.
type Config struct {
	Type   string // "console" or "file"
	Level  string // "debug", "info", "warn", "error"
	Format string // "text" or "json"
	File   string // path for file logging
}

// Setup installs the configured logger as slog's default. The returned
// closer flushes and closes a log file, when one is in use.
func Setup(cfg Config) (func() error, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	out := os.Stdout
	closer := func() error { return nil }
	if cfg.Type == "file" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closer = f.Close
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: sanitizeAttr}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closer, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", s)
	}
}

// sensitiveKeys are redacted wholesale; a password does not belong in a
// log file at any level.
var sensitiveKeys = []string{"password", "pass", "token", "secret", "authorization", "api_key"}

func sanitizeAttr(groups []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if key == s || strings.HasSuffix(key, "_"+s) {
			return slog.String(a.Key, "[redacted]")
		}
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, Sanitize(a.Value.String()))
	}
	return a
}

// Sanitize flattens a string to one line and strips control characters, so
// attacker-supplied header values cannot forge log records.
func Sanitize(s string) string {
	if !strings.ContainsFunc(s, func(r rune) bool { return unicode.IsControl(r) }) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\r' || r == '\n':
			b.WriteRune(' ')
		case r == '\t' || !unicode.IsControl(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

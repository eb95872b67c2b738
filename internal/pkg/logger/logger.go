// Package logger 构造全局 slog 日志器。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewDefault 返回输出到 stdout 的文本日志器。
func NewDefault(level string) *slog.Logger {
	return New(os.Stdout, level, "text")
}

// New builds a logger writing to w. format "json" selects the JSON handler,
// anything else selects the text handler.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

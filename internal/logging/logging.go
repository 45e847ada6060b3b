// Package logging builds the process logger and carries per-update attributes in a context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// New returns a slog logger writing text or json at the given level.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type ctxKey struct{}

// WithEvent tags ctx with a fresh event id and the telegram user behind it. The returned
// logger carries both attributes.
func WithEvent(ctx context.Context, base *slog.Logger, userID int64) (context.Context, *slog.Logger) {
	l := base.With("event_id", uuid.NewString(), "telegram_user_id", userID)
	return context.WithValue(ctx, ctxKey{}, l), l
}

// From returns the logger stored by WithEvent, or fallback.
func From(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return fallback
}

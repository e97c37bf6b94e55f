package logging

import (
	"context"
	"io"
	"log/slog"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// levelFilter gates a handler with a dynamic level. The charm logger keeps its
// own static level, so it is opened fully and filtered here.
type levelFilter struct {
	next  slog.Handler
	level slog.Leveler
}

// NewPrettyHandler creates a colourised terminal handler backed by
// charmbracelet/log.
func NewPrettyHandler(w io.Writer, level slog.Leveler) slog.Handler {
	logger := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Level:           charmlog.DebugLevel,
	})
	return &levelFilter{next: logger, level: level}
}

// Enabled implements slog.Handler.
func (f *levelFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= f.level.Level() && f.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (f *levelFilter) Handle(ctx context.Context, r slog.Record) error {
	return f.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (f *levelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelFilter{next: f.next.WithAttrs(attrs), level: f.level}
}

// WithGroup implements slog.Handler.
func (f *levelFilter) WithGroup(name string) slog.Handler {
	return &levelFilter{next: f.next.WithGroup(name), level: f.level}
}

package logger

import (
	"context"
	"log/slog"
)

// splitHandler sends error records to one handler and the rest to another
type splitHandler struct {
	level slog.Leveler
	out   slog.Handler
	err   slog.Handler
}

func (h *splitHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *splitHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return h.err.Handle(ctx, r)
	}
	return h.out.Handle(ctx, r)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{
		level: h.level,
		out:   h.out.WithAttrs(attrs),
		err:   h.err.WithAttrs(attrs),
	}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{
		level: h.level,
		out:   h.out.WithGroup(name),
		err:   h.err.WithGroup(name),
	}
}

package logger

import (
	"log/slog"
	"time"
)

// Attribute helpers shared by pool, registry and api logs
var (
	String = slog.String
	Uint64 = slog.Uint64
	Any    = slog.Any

	Duration = func(key string, d time.Duration) slog.Attr {
		return slog.String(key, d.String())
	}

	ErrorField = func(err error) slog.Attr {
		if err == nil {
			return slog.String("error", "<nil>")
		}
		return slog.String("error", err.Error())
	}

	Component = func(name string) slog.Attr {
		return slog.String("component", name)
	}

	// Operation names a connection reset step
	Operation = func(name string) slog.Attr {
		return slog.String("operation", name)
	}

	Pool = func(name string) slog.Attr {
		return slog.String("pool", name)
	}

	// Lease identifies one checkout of a pooled connection
	Lease = func(id string) slog.Attr {
		return slog.String("lease", id)
	}
)

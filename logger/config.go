package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cast"
)

// Config describes a logger with separate debug and error destinations
type Config struct {
	Level       slog.Level
	Format      string // "json" or "text"
	AddSource   bool
	Writer      io.Writer // below LevelError
	ErrorWriter io.Writer // LevelError and above
}

// DefaultConfig logs text at info level, errors to stderr
func DefaultConfig() Config {
	return Config{
		Level:       slog.LevelInfo,
		Format:      "text",
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}
}

// LoadConfig reads LOG_LEVEL, LOG_FORMAT and LOG_ADD_SOURCE from the
// process environment. Unparsable values keep the default.
func LoadConfig() Config {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookupEnv func(string) (string, bool)) Config {
	config := DefaultConfig()

	if v, ok := lookupEnv("LOG_LEVEL"); ok && v != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(v)); err == nil {
			config.Level = level
		} else if n, err := cast.ToIntE(v); err == nil {
			config.Level = slog.Level(n)
		}
	}

	if v, ok := lookupEnv("LOG_FORMAT"); ok && (v == "text" || v == "json") {
		config.Format = v
	}

	if v, ok := lookupEnv("LOG_ADD_SOURCE"); ok && v != "" {
		if addSource, err := cast.ToBoolE(v); err == nil {
			config.AddSource = addSource
		}
	}

	return config
}

// LevelForDebug maps a pool debug level to the minimum slog level.
// 0 logs errors only, 1 adds leak warnings, 2 adds every lease event.
func LevelForDebug(debugLevel int) slog.Level {
	switch {
	case debugLevel <= 0:
		return slog.LevelError
	case debugLevel == 1:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// NewLogger creates a new logger with the given configuration. Records at
// LevelError and above go to ErrorWriter, everything else to Writer.
func NewLogger(config Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}
	errWriter := config.ErrorWriter
	if errWriter == nil {
		errWriter = writer
	}

	return slog.New(&splitHandler{
		level: config.Level,
		out:   newHandler(config.Format, writer, opts),
		err:   newHandler(config.Format, errWriter, opts),
	})
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitHandlerRoutesByLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	log := NewLogger(Config{Level: slog.LevelDebug, Format: "text", Writer: &out, ErrorWriter: &errOut})

	log.Debug("connection created", Component("pool"))
	log.Warn("connection was not closed")
	log.Error("failed to close connection", ErrorField(errors.New("boom")))

	assert.Contains(t, out.String(), "connection created")
	assert.Contains(t, out.String(), "component=pool")
	assert.Contains(t, out.String(), "connection was not closed")
	assert.NotContains(t, out.String(), "failed to close")
	assert.Contains(t, errOut.String(), "failed to close connection")
	assert.Contains(t, errOut.String(), "error=boom")
}

func TestLevelForDebug(t *testing.T) {
	assert.Equal(t, slog.LevelError, LevelForDebug(0))
	assert.Equal(t, slog.LevelError, LevelForDebug(-3))
	assert.Equal(t, slog.LevelWarn, LevelForDebug(1))
	assert.Equal(t, slog.LevelDebug, LevelForDebug(2))
	assert.Equal(t, slog.LevelDebug, LevelForDebug(9))
}

func TestDebugLevelZeroDropsWarnings(t *testing.T) {
	var out, errOut bytes.Buffer
	log := NewLogger(Config{Level: LevelForDebug(0), Writer: &out, ErrorWriter: &errOut})

	log.Warn("connection was not closed")
	log.Error("leak scan failed")

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "leak scan failed")
}

func TestWithAttrsReachBothSinks(t *testing.T) {
	var out, errOut bytes.Buffer
	log := NewLogger(Config{Level: slog.LevelDebug, Writer: &out, ErrorWriter: &errOut}).
		With(Pool("orders"))

	log.Info("pool created")
	log.Error("pool failed")

	assert.Contains(t, out.String(), "pool=orders")
	assert.Contains(t, errOut.String(), "pool=orders")
}

func TestOpenSinks(t *testing.T) {
	dir := t.TempDir()
	debugPath := filepath.Join(dir, "debug.log")
	errorPath := filepath.Join(dir, "error.log")

	sinks, errs := OpenSinks(debugPath, errorPath)
	require.Empty(t, errs)

	log := sinks.Logger(slog.LevelDebug, "text")
	log.Debug("connection reused")
	log.Error("failed to close connection")
	require.NoError(t, sinks.Close())
	require.NoError(t, sinks.Close())

	debugData, err := os.ReadFile(debugPath)
	require.NoError(t, err)
	errorData, err := os.ReadFile(errorPath)
	require.NoError(t, err)
	assert.Contains(t, string(debugData), "connection reused")
	assert.Contains(t, string(errorData), "failed to close connection")
}

func TestOpenSinksFallsBackToStandardStreams(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-dir", "debug.log")

	sinks, errs := OpenSinks(missing, "")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "can't open debug log file")
	assert.Equal(t, os.Stdout, sinks.Debug)
	assert.Equal(t, os.Stderr, sinks.Error)
	assert.NoError(t, sinks.Close())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	env := map[string]string{
		"LOG_LEVEL":      "debug",
		"LOG_FORMAT":     "json",
		"LOG_ADD_SOURCE": "true",
	}
	cfg := loadConfig(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, slog.LevelDebug, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.AddSource)

	env = map[string]string{"LOG_LEVEL": "-4", "LOG_FORMAT": "xml", "LOG_ADD_SOURCE": "maybe"}
	cfg = loadConfig(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, slog.LevelDebug, cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.False(t, cfg.AddSource)
}

func TestPackageLevelHelpers(t *testing.T) {
	var out, errOut bytes.Buffer
	saved := Logger
	t.Cleanup(func() { Logger = saved })
	Logger = NewLogger(Config{Level: slog.LevelInfo, Writer: &out, ErrorWriter: &errOut})

	Info("pool file loaded", Pool("orders"))
	Warn("warm-up ping failed")
	Error("failed to reload pool file")

	assert.Contains(t, out.String(), "pool file loaded")
	assert.Contains(t, out.String(), "pool=orders")
	assert.Contains(t, out.String(), "warm-up ping failed")
	assert.Contains(t, errOut.String(), "failed to reload pool file")
}

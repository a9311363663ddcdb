package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Sinks owns the destinations of a pool logger. Files opened for the debug
// and error logs are closed by Close; the standard streams never are.
type Sinks struct {
	Debug io.Writer
	Error io.Writer

	mu     sync.Mutex
	files  []*os.File
	closed bool
}

// OpenSinks opens the debug and error log files for appending. An empty path
// keeps the default stream (stdout for debug, stderr for errors). A path that
// cannot be opened also keeps the default stream and its error is returned
// so the caller can report it.
func OpenSinks(debugPath, errorPath string) (*Sinks, []error) {
	s := &Sinks{Debug: os.Stdout, Error: os.Stderr}
	var errs []error

	if errorPath != "" {
		f, err := openLogFile(errorPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("can't open error log file %q: %w", errorPath, err))
		} else {
			s.Error = f
			s.files = append(s.files, f)
		}
	}
	if debugPath != "" {
		f, err := openLogFile(debugPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("can't open debug log file %q: %w", debugPath, err))
		} else {
			s.Debug = f
			s.files = append(s.files, f)
		}
	}
	return s, errs
}

func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Logger creates a logger writing to the sinks
func (s *Sinks) Logger(level slog.Level, format string) *slog.Logger {
	return NewLogger(Config{
		Level:       level,
		Format:      format,
		Writer:      s.Debug,
		ErrorWriter: s.Error,
	})
}

// Close closes every file the sinks opened. It is safe to call more than once.
func (s *Sinks) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

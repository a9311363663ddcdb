package pool

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log/slog"
	"sync"

	"github.com/guileen/poolman/logger"
)

// fakeConn records everything the pool does to it
type fakeConn struct {
	mu sync.Mutex

	id       int
	auto     bool
	inTx     bool
	level    sql.IsolationLevel
	warnings []string

	execs     int
	rollbacks int
	commits   int
	levelRead int
	closes    int

	rollbackErr     error
	levelErr        error
	closeErr        error
	panicOnWarnings bool
}

var _ Conn = (*fakeConn)(nil)

func (c *fakeConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs++
	if !c.auto {
		c.inTx = true
	}
	return driver.RowsAffected(0), nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("fake: queries not supported")
}

func (c *fakeConn) PingContext(ctx context.Context) error {
	return nil
}

func (c *fakeConn) AutoCommit() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auto, nil
}

func (c *fakeConn) SetAutoCommit(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on && c.inTx {
		c.inTx = false
		c.commits++
	}
	c.auto = on
	return nil
}

func (c *fakeConn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = false
	c.commits++
	return nil
}

func (c *fakeConn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
	if c.rollbackErr != nil {
		return c.rollbackErr
	}
	c.inTx = false
	return nil
}

func (c *fakeConn) IsolationLevel(ctx context.Context) (sql.IsolationLevel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levelRead++
	if c.levelErr != nil {
		return sql.LevelDefault, c.levelErr
	}
	return c.level, nil
}

func (c *fakeConn) SetIsolationLevel(ctx context.Context, level sql.IsolationLevel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = level
	return nil
}

func (c *fakeConn) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.warnings...)
}

func (c *fakeConn) ClearWarnings() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicOnWarnings {
		panic("fake: warnings unavailable")
	}
	c.warnings = nil
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return c.closeErr
}

func (c *fakeConn) snapshot() fakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fakeConn{
		id:        c.id,
		auto:      c.auto,
		inTx:      c.inTx,
		level:     c.level,
		warnings:  append([]string(nil), c.warnings...),
		execs:     c.execs,
		rollbacks: c.rollbacks,
		commits:   c.commits,
		levelRead: c.levelRead,
		closes:    c.closes,
	}
}

// fakeFactory hands out fakeConns starting in auto-commit at READ COMMITTED
type fakeFactory struct {
	mu      sync.Mutex
	conns   []*fakeConn
	err     error
	prepare func(*fakeConn)
}

func (f *fakeFactory) New(ctx context.Context) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{id: len(f.conns) + 1, auto: true, level: sql.LevelReadCommitted}
	if f.prepare != nil {
		f.prepare(c)
	}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) created() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

// fakeJournal collects leaks in memory
type fakeJournal struct {
	mu    sync.Mutex
	leaks []Leak
}

func (j *fakeJournal) Record(ctx context.Context, leak Leak) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.leaks = append(j.leaks, leak)
	return nil
}

func (j *fakeJournal) recorded() []Leak {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Leak(nil), j.leaks...)
}

// countingCloser counts Close calls and fails them with err, if set
type countingCloser struct {
	mu     sync.Mutex
	closes int
	err    error
}

func (c *countingCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return c.err
}

func (c *countingCloser) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// syncBuffer is a bytes.Buffer safe for the scanner goroutine to write to
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(w *syncBuffer) *slog.Logger {
	return logger.NewLogger(logger.Config{Level: slog.LevelDebug, Writer: w, ErrorWriter: w})
}

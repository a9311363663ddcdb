// Package session provides the raw connections pooled by poolman: one
// dedicated database/sql connection per Session, with JDBC-style
// auto-commit switching and session isolation control.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guileen/poolman/pool"
)

// ErrClosed is returned by every method of a closed Session
var ErrClosed = errors.New("session: closed")

// warningsTimeout bounds the warnings query run by Warnings
const warningsTimeout = 5 * time.Second

// Session is a single physical connection. It owns a private *sql.DB limited
// to one connection so that session state set on it stays put.
type Session struct {
	dialect Dialect

	mu     sync.Mutex
	db     *sql.DB
	conn   *sql.Conn
	auto   bool
	inTx   bool
	closed bool

	// pending is set after an Exec whose warnings the dialect has not
	// been asked for yet
	pending bool

	// wmu guards warnings apart from mu: notices are delivered while a
	// statement holds mu.
	wmu      sync.Mutex
	warnings []string
}

var _ pool.Conn = (*Session)(nil)

func newSession(dialect Dialect) *Session {
	return &Session{dialect: dialect, auto: true}
}

// Open pins one connection of db and wraps it. db must not be shared: the
// session closes it together with the connection.
func Open(ctx context.Context, dialect Dialect, db *sql.DB) (*Session, error) {
	return newSession(dialect).attach(ctx, db)
}

func (s *Session) attach(ctx context.Context, db *sql.DB) (*Session, error) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: connect: %w", s.dialect.Name(), err)
	}
	s.db = db
	s.conn = conn
	return s, nil
}

// Dialect returns the dialect the session speaks
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// begin opens the transaction of a manual-commit session before its first statement
func (s *Session) begin(ctx context.Context) error {
	if s.auto || s.inTx {
		return nil
	}
	if _, err := s.conn.ExecContext(ctx, "BEGIN"); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s.inTx = true
	return nil
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.begin(ctx); err != nil {
		return nil, err
	}

	s.pending = false
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	s.pending = true
	return res, nil
}

// QueryContext runs a query on the session. The rows must be closed before
// the next statement: the session has a single connection.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	s.pending = false
	return s.conn.QueryContext(ctx, query, args...)
}

func (s *Session) PingContext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.conn.PingContext(ctx)
}

func (s *Session) AutoCommit() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	return s.auto, nil
}

// SetAutoCommit switches commit mode. Turning auto-commit on commits the
// open transaction, if any.
func (s *Session) SetAutoCommit(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if on && s.inTx {
		if err := s.end(ctx, "COMMIT"); err != nil {
			return err
		}
	}
	s.auto = on
	return nil
}

func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.end(ctx, "COMMIT")
}

func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.end(ctx, "ROLLBACK")
}

func (s *Session) end(ctx context.Context, stmt string) error {
	if !s.inTx {
		return nil
	}
	s.pending = false
	// The transaction is over on the server even when the statement fails
	s.inTx = false
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	return nil
}

func (s *Session) IsolationLevel(ctx context.Context) (sql.IsolationLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sql.LevelDefault, ErrClosed
	}
	s.pending = false
	return s.dialect.IsolationLevel(ctx, s.conn)
}

func (s *Session) SetIsolationLevel(ctx context.Context, level sql.IsolationLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending = false
	return s.dialect.SetIsolationLevel(ctx, s.conn, level)
}

// Warnings returns the notices received so far and, for dialects that
// report warnings on request, those of the last Exec. Later statements
// discard the warnings of an earlier Exec before they are fetched.
func (s *Session) Warnings() []string {
	s.fetchWarnings()

	s.wmu.Lock()
	defer s.wmu.Unlock()
	return append([]string(nil), s.warnings...)
}

func (s *Session) ClearWarnings() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending = false
	s.wmu.Lock()
	s.warnings = nil
	s.wmu.Unlock()
	return nil
}

func (s *Session) fetchWarnings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.pending {
		return
	}
	s.pending = false

	ctx, cancel := context.WithTimeout(context.Background(), warningsTimeout)
	defer cancel()
	ws, err := s.dialect.Warnings(ctx, s.conn)
	if err != nil || len(ws) == 0 {
		return
	}
	s.wmu.Lock()
	s.warnings = append(s.warnings, ws...)
	s.wmu.Unlock()
}

func (s *Session) addWarning(w string) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.warnings = append(s.warnings, w)
}

// Close closes the connection and its private pool. An open transaction is
// rolled back by the server.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.conn.Close(), s.db.Close())
}

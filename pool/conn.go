package pool

import (
	"context"
	"database/sql"
)

// Conn is the operation surface shared by raw sessions and the handles the
// pool gives out. A Handle is a drop-in replacement for the Conn it wraps.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error

	// AutoCommit reports whether every statement commits on its own.
	AutoCommit() (bool, error)
	SetAutoCommit(ctx context.Context, on bool) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// IsolationLevel is the session default applied to new transactions.
	IsolationLevel(ctx context.Context) (sql.IsolationLevel, error)
	SetIsolationLevel(ctx context.Context, level sql.IsolationLevel) error

	Warnings() []string
	ClearWarnings() error

	Close() error
}

// Factory creates new raw connections
type Factory func(ctx context.Context) (Conn, error)

// ReleaseListener is told when a proxy hands its connection back
type ReleaseListener interface {
	Released(px *Proxy)
}

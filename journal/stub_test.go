package journal

import (
	"context"
	"database/sql"
	"database/sql/driver"
)

// stubConn is a connection that accepts everything and holds no state
type stubConn struct{}

func (stubConn) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return driver.RowsAffected(0), nil
}

func (stubConn) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, sql.ErrNoRows
}

func (stubConn) PingContext(context.Context) error { return nil }
func (stubConn) AutoCommit() (bool, error) { return true, nil }
func (stubConn) SetAutoCommit(context.Context, bool) error { return nil }
func (stubConn) Commit(context.Context) error { return nil }
func (stubConn) Rollback(context.Context) error { return nil }
func (stubConn) SetIsolationLevel(context.Context, sql.IsolationLevel) error { return nil }
func (stubConn) Warnings() []string { return nil }
func (stubConn) ClearWarnings() error { return nil }
func (stubConn) Close() error { return nil }

func (stubConn) IsolationLevel(context.Context) (sql.IsolationLevel, error) {
	return sql.LevelReadCommitted, nil
}

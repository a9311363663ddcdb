package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect knows how a database exposes session isolation and warnings
type Dialect interface {
	Name() string
	IsolationLevel(ctx context.Context, conn *sql.Conn) (sql.IsolationLevel, error)
	SetIsolationLevel(ctx context.Context, conn *sql.Conn, level sql.IsolationLevel) error
	// Warnings fetches the warnings left by the last statement, if the
	// database only reports them on request.
	Warnings(ctx context.Context, conn *sql.Conn) ([]string, error)
}

var (
	Postgres Dialect = postgresDialect{}
	MySQL    Dialect = mysqlDialect{}
	SQLite   Dialect = sqliteDialect{}
)

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) IsolationLevel(ctx context.Context, conn *sql.Conn) (sql.IsolationLevel, error) {
	var name string
	if err := conn.QueryRowContext(ctx, "SHOW default_transaction_isolation").Scan(&name); err != nil {
		return sql.LevelDefault, fmt.Errorf("read isolation level: %w", err)
	}
	return parseLevel(name)
}

func (postgresDialect) SetIsolationLevel(ctx context.Context, conn *sql.Conn, level sql.IsolationLevel) error {
	name, err := levelName(level)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL "+name)
	return err
}

// Warnings returns nothing: notices arrive asynchronously through OnNotice
func (postgresDialect) Warnings(context.Context, *sql.Conn) ([]string, error) {
	return nil, nil
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) IsolationLevel(ctx context.Context, conn *sql.Conn) (sql.IsolationLevel, error) {
	var name string
	if err := conn.QueryRowContext(ctx, "SELECT @@SESSION.transaction_isolation").Scan(&name); err != nil {
		return sql.LevelDefault, fmt.Errorf("read isolation level: %w", err)
	}
	return parseLevel(name)
}

func (mysqlDialect) SetIsolationLevel(ctx context.Context, conn *sql.Conn, level sql.IsolationLevel) error {
	name, err := levelName(level)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, "SET SESSION TRANSACTION ISOLATION LEVEL "+name)
	return err
}

func (mysqlDialect) Warnings(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "SHOW WARNINGS")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var level, message string
		var code int
		if err := rows.Scan(&level, &code, &message); err != nil {
			return out, err
		}
		out = append(out, fmt.Sprintf("%s %d: %s", level, code, message))
	}
	return out, rows.Err()
}

// sqliteDialect maps PRAGMA read_uncommitted onto the two levels SQLite has
type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }

func (sqliteDialect) IsolationLevel(ctx context.Context, conn *sql.Conn) (sql.IsolationLevel, error) {
	var on int
	if err := conn.QueryRowContext(ctx, "PRAGMA read_uncommitted").Scan(&on); err != nil {
		return sql.LevelDefault, fmt.Errorf("read isolation level: %w", err)
	}
	if on != 0 {
		return sql.LevelReadUncommitted, nil
	}
	return sql.LevelSerializable, nil
}

func (sqliteDialect) SetIsolationLevel(ctx context.Context, conn *sql.Conn, level sql.IsolationLevel) error {
	var pragma string
	switch level {
	case sql.LevelSerializable, sql.LevelDefault:
		pragma = "PRAGMA read_uncommitted = 0"
	case sql.LevelReadUncommitted:
		pragma = "PRAGMA read_uncommitted = 1"
	default:
		return fmt.Errorf("sqlite3: unsupported isolation level %s", level)
	}
	_, err := conn.ExecContext(ctx, pragma)
	return err
}

func (sqliteDialect) Warnings(context.Context, *sql.Conn) ([]string, error) {
	return nil, nil
}

// parseLevel accepts "read committed", "READ-COMMITTED" and "read_committed"
func parseLevel(name string) (sql.IsolationLevel, error) {
	norm := strings.ToUpper(strings.TrimSpace(name))
	norm = strings.NewReplacer("-", " ", "_", " ").Replace(norm)
	switch norm {
	case "READ UNCOMMITTED":
		return sql.LevelReadUncommitted, nil
	case "READ COMMITTED":
		return sql.LevelReadCommitted, nil
	case "REPEATABLE READ":
		return sql.LevelRepeatableRead, nil
	case "SERIALIZABLE":
		return sql.LevelSerializable, nil
	}
	return sql.LevelDefault, fmt.Errorf("unknown isolation level %q", name)
}

func levelName(level sql.IsolationLevel) (string, error) {
	switch level {
	case sql.LevelReadUncommitted:
		return "READ UNCOMMITTED", nil
	case sql.LevelReadCommitted:
		return "READ COMMITTED", nil
	case sql.LevelRepeatableRead:
		return "REPEATABLE READ", nil
	case sql.LevelSerializable:
		return "SERIALIZABLE", nil
	}
	return "", fmt.Errorf("unsupported isolation level %s", level)
}

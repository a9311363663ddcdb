package session

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/guileen/poolman/pool"
)

// Driver opens sessions for one kind of database
type Driver struct {
	Name    string
	Dialect Dialect
	open    func(ctx context.Context, s *Session, dsn string) (*sql.DB, error)
}

// Open connects a new session to dsn
func (d Driver) Open(ctx context.Context, dsn string) (*Session, error) {
	s := newSession(d.Dialect)
	db, err := d.open(ctx, s, dsn)
	if err != nil {
		return nil, err
	}
	return s.attach(ctx, db)
}

// Factory returns a pool factory that opens a session to dsn on every call
func (d Driver) Factory(dsn string) pool.Factory {
	return func(ctx context.Context) (pool.Conn, error) {
		s, err := d.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

var drivers = map[string]Driver{}

func register(d Driver, aliases ...string) {
	for _, name := range append([]string{d.Name}, aliases...) {
		drivers[name] = d
	}
}

func init() {
	register(Driver{Name: "pgx", Dialect: Postgres, open: openPostgres}, "postgres", "postgresql")
	register(Driver{Name: "mysql", Dialect: MySQL, open: openMySQL})
	register(Driver{Name: "sqlite3", Dialect: SQLite, open: openSQLite}, "sqlite")
}

// Lookup finds a driver by name or alias, case-insensitively
func Lookup(name string) (Driver, bool) {
	d, ok := drivers[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// Names returns every registered driver name and alias
func Names() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// openPostgres routes server NOTICE messages into the session warnings
func openPostgres(_ context.Context, s *Session, dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		s.addWarning(n.Severity + ": " + n.Message)
	}
	return stdlib.OpenDB(*cfg), nil
}

func openMySQL(_ context.Context, _ *Session, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func openSQLite(_ context.Context, _ *Session, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite3: %w", err)
	}
	return db, nil
}

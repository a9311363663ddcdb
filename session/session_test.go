package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/poolman/pool"
)

func sqliteDSN(t *testing.T) string {
	t.Helper()
	return "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
}

func openSQLiteSession(t *testing.T, dsn string) *Session {
	t.Helper()
	d, ok := Lookup("sqlite3")
	require.True(t, ok)
	s, err := d.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func countRows(t *testing.T, c pool.Conn) int {
	t.Helper()
	rows, err := c.QueryContext(context.Background(), "SELECT COUNT(*) FROM items")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	return n
}

func TestSessionAutoCommitByDefault(t *testing.T) {
	ctx := context.Background()
	s := openSQLiteSession(t, sqliteDSN(t))

	auto, err := s.AutoCommit()
	require.NoError(t, err)
	assert.True(t, auto)

	_, err = s.ExecContext(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	_, err = s.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", "a")
	require.NoError(t, err)

	// Nothing to roll back in auto-commit mode
	require.NoError(t, s.Rollback(ctx))
	assert.Equal(t, 1, countRows(t, s))
}

func TestSessionManualCommit(t *testing.T) {
	ctx := context.Background()
	s := openSQLiteSession(t, sqliteDSN(t))

	_, err := s.ExecContext(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	require.NoError(t, s.SetAutoCommit(ctx, false))
	_, err = s.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", "rolled back")
	require.NoError(t, err)
	require.NoError(t, s.Rollback(ctx))
	assert.Equal(t, 0, countRows(t, s))
	require.NoError(t, s.Rollback(ctx))

	_, err = s.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", "committed")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Rollback(ctx))
	assert.Equal(t, 1, countRows(t, s))
}

func TestSetAutoCommitCommitsOpenTransaction(t *testing.T) {
	ctx := context.Background()
	dsn := sqliteDSN(t)
	s := openSQLiteSession(t, dsn)

	_, err := s.ExecContext(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	require.NoError(t, s.SetAutoCommit(ctx, false))
	_, err = s.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", "kept")
	require.NoError(t, err)
	require.NoError(t, s.SetAutoCommit(ctx, true))

	other := openSQLiteSession(t, dsn)
	assert.Equal(t, 1, countRows(t, other))
}

func TestSQLiteIsolationLevels(t *testing.T) {
	ctx := context.Background()
	s := openSQLiteSession(t, sqliteDSN(t))

	level, err := s.IsolationLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, sql.LevelSerializable, level)

	require.NoError(t, s.SetIsolationLevel(ctx, sql.LevelReadUncommitted))
	level, err = s.IsolationLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, sql.LevelReadUncommitted, level)

	assert.Error(t, s.SetIsolationLevel(ctx, sql.LevelRepeatableRead))
}

func TestSessionWarnings(t *testing.T) {
	s := openSQLiteSession(t, sqliteDSN(t))

	s.addWarning("NOTICE: relation already exists, skipping")
	assert.Equal(t, []string{"NOTICE: relation already exists, skipping"}, s.Warnings())

	require.NoError(t, s.ClearWarnings())
	assert.Empty(t, s.Warnings())
}

// reportingDialect is SQLite that reports one warning per request
type reportingDialect struct {
	Dialect
	calls int
}

func (d *reportingDialect) Warnings(context.Context, *sql.Conn) ([]string, error) {
	d.calls++
	return []string{"Note 1051: unknown table"}, nil
}

func TestWarningsFetchedOnRequest(t *testing.T) {
	ctx := context.Background()
	d := &reportingDialect{Dialect: SQLite}
	db, err := sql.Open("sqlite3", sqliteDSN(t))
	require.NoError(t, err)
	s, err := Open(ctx, d, db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for i := 0; i < 3; i++ {
		_, err := s.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS items (id INTEGER)")
		require.NoError(t, err)
	}
	assert.Equal(t, 0, d.calls)

	assert.Equal(t, []string{"Note 1051: unknown table"}, s.Warnings())
	assert.Equal(t, []string{"Note 1051: unknown table"}, s.Warnings())
	assert.Equal(t, 1, d.calls)

	_, err = s.ExecContext(ctx, "INSERT INTO items VALUES (1)")
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, s))
	assert.Len(t, s.Warnings(), 1)
	assert.Equal(t, 1, d.calls)

	_, err = s.ExecContext(ctx, "DELETE FROM items")
	require.NoError(t, err)
	require.NoError(t, s.ClearWarnings())
	assert.Empty(t, s.Warnings())
	assert.Equal(t, 1, d.calls)
}

func TestSessionClose(t *testing.T) {
	ctx := context.Background()
	s := openSQLiteSession(t, sqliteDSN(t))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.ExecContext(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.PingContext(ctx), ErrClosed)
	_, err = s.IsolationLevel(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPooledSessionIsReset(t *testing.T) {
	ctx := context.Background()
	d, ok := Lookup("sqlite")
	require.True(t, ok)

	p := pool.New(d.Factory(sqliteDSN(t)), pool.Options{Name: "sqlite", CloseCheckInterval: time.Minute})
	defer p.Shutdown()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	_, err = h.ExecContext(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	require.NoError(t, h.SetAutoCommit(ctx, false))
	require.NoError(t, h.SetIsolationLevel(ctx, sql.LevelReadUncommitted))
	_, err = h.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", "abandoned")
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h, err = p.Acquire(ctx)
	require.NoError(t, err)
	defer h.Close()

	auto, err := h.AutoCommit()
	require.NoError(t, err)
	assert.True(t, auto)
	level, err := h.IsolationLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, sql.LevelSerializable, level)
	assert.Equal(t, 0, countRows(t, h))

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Created)
	assert.Equal(t, uint64(1), stats.Reused)
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"pgx", "postgres", "PostgreSQL", "mysql", "sqlite3", "sqlite"} {
		_, ok := Lookup(name)
		assert.True(t, ok, name)
	}
	_, ok := Lookup("oracle")
	assert.False(t, ok)
	assert.Contains(t, Names(), "mysql")

	d, _ := Lookup("postgres")
	assert.Equal(t, "pgx", d.Name)
	assert.Equal(t, "postgres", d.Dialect.Name())
}

func TestFactoryReportsBadDSN(t *testing.T) {
	ctx := context.Background()

	pg, _ := Lookup("pgx")
	_, err := pg.Factory("host=localhost port=notaport")(ctx)
	assert.ErrorContains(t, err, "postgres: parse dsn")

	my, _ := Lookup("mysql")
	_, err = my.Factory("not a dsn")(ctx)
	assert.ErrorContains(t, err, "mysql: parse dsn")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]sql.IsolationLevel{
		"read committed":   sql.LevelReadCommitted,
		"READ-COMMITTED":   sql.LevelReadCommitted,
		"REPEATABLE-READ":  sql.LevelRepeatableRead,
		"read uncommitted": sql.LevelReadUncommitted,
		"serializable":     sql.LevelSerializable,
		" SERIALIZABLE ":   sql.LevelSerializable,
	}
	for in, want := range cases {
		got, err := parseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseLevel("snapshot")
	assert.Error(t, err)

	name, err := levelName(sql.LevelRepeatableRead)
	require.NoError(t, err)
	assert.Equal(t, "REPEATABLE READ", name)
	_, err = levelName(sql.LevelSnapshot)
	assert.Error(t, err)
}

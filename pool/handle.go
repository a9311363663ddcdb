package pool

import (
	"context"
	"database/sql"
	"runtime"
)

// Handle is what Acquire returns. It forwards every Conn method to the
// pooled connection except Close, which hands the connection back to the
// pool instead of closing it.
//
// Each forwarding method keeps the handle alive until the call returns, so a
// handle used for the last time cannot be reclaimed mid-statement.
type Handle struct {
	px *Proxy
}

var _ Conn = (*Handle)(nil)

// LeaseID returns the ID of the lease behind this handle
func (h *Handle) LeaseID() string {
	return h.px.id.String()
}

func (h *Handle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer runtime.KeepAlive(h)
	c, err := h.px.conn()
	if err != nil {
		return nil, err
	}
	return c.ExecContext(ctx, query, args...)
}

func (h *Handle) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer runtime.KeepAlive(h)
	c, err := h.px.conn()
	if err != nil {
		return nil, err
	}
	return c.QueryContext(ctx, query, args...)
}

func (h *Handle) PingContext(ctx context.Context) error {
	defer runtime.KeepAlive(h)
	c, err := h.px.conn()
	if err != nil {
		return err
	}
	return c.PingContext(ctx)
}

func (h *Handle) AutoCommit() (bool, error) {
	defer runtime.KeepAlive(h)
	c, err := h.px.conn()
	if err != nil {
		return false, err
	}
	return c.AutoCommit()
}

func (h *Handle) SetAutoCommit(ctx context.Context, on bool) error {
	defer runtime.KeepAlive(h)
	c, err := h.px.conn()
	if err != nil {
		return err
	}
	return c.SetAutoCommit(ctx, on)
}

func (h *Handle) Commit(ctx context.Context) error {
	defer runtime.KeepAlive(h)
	c, err := h.px.conn()
	if err != nil {
		return err
	}
	return c.Commit(ctx)
}

func (h *Handle) Rollback(ctx context.Context) error {
	defer runtime.KeepAlive(h)
	c, err := h.px.conn()
	if err != nil {
		return err
	}
	return c.Rollback(ctx)
}

func (h *Handle) IsolationLevel(ctx context.Context) (sql.IsolationLevel, error) {
	defer runtime.KeepAlive(h)
	c, err := h.px.conn()
	if err != nil {
		return sql.LevelDefault, err
	}
	return c.IsolationLevel(ctx)
}

func (h *Handle) SetIsolationLevel(ctx context.Context, level sql.IsolationLevel) error {
	defer runtime.KeepAlive(h)
	c, err := h.px.conn()
	if err != nil {
		return err
	}
	return c.SetIsolationLevel(ctx, level)
}

func (h *Handle) Warnings() []string {
	defer runtime.KeepAlive(h)
	c, err := h.px.conn()
	if err != nil {
		return nil
	}
	return c.Warnings()
}

func (h *Handle) ClearWarnings() error {
	defer runtime.KeepAlive(h)
	c, err := h.px.conn()
	if err != nil {
		return err
	}
	return c.ClearWarnings()
}

// Close releases the lease. Calling it again is a no-op.
func (h *Handle) Close() error {
	h.px.Release()
	return nil
}

package pool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/google/uuid"
	"github.com/guileen/poolman/logger"
)

// resetTimeout bounds the whole normalization sequence run on release
const resetTimeout = 5 * time.Second

// member is a raw connection owned by the pool together with what the pool
// remembers about it between leases
type member struct {
	conn      Conn
	baseline  sql.IsolationLevel
	captured  bool
	createdAt time.Time
	leases    uint64
}

// Proxy wraps exactly one pooled connection for the duration of one lease.
// It hands out a Handle to the consumer and only keeps a weak reference to it,
// so the garbage collector can tell the pool when the consumer lost the handle.
type Proxy struct {
	id         uuid.UUID
	acquiredAt time.Time
	listener   ReleaseListener
	log        *slog.Logger

	mu     sync.RWMutex
	m      *member
	handle weak.Pointer[Handle]

	released      atomic.Bool
	resetFailures atomic.Int32
}

// newProxy wraps m. The baseline isolation level is read the first time a
// connection is wrapped and reused on every later lease.
func newProxy(ctx context.Context, m *member, listener ReleaseListener, log *slog.Logger) (*Proxy, error) {
	if !m.captured {
		level, err := m.conn.IsolationLevel(ctx)
		if err != nil {
			return nil, fmt.Errorf("capture baseline isolation level: %w", err)
		}
		m.baseline = level
		m.captured = true
	}
	m.leases++

	id := uuid.New()
	return &Proxy{
		id:         id,
		acquiredAt: time.Now(),
		listener:   listener,
		log:        log.With(logger.Lease(id.String())),
		m:          m,
	}, nil
}

// ID returns the lease ID
func (px *Proxy) ID() uuid.UUID {
	return px.id
}

// AcquiredAt returns when the lease started
func (px *Proxy) AcquiredAt() time.Time {
	return px.acquiredAt
}

// Handle returns the consumer-facing handle for this lease
func (px *Proxy) Handle() *Handle {
	px.mu.Lock()
	defer px.mu.Unlock()

	if h := px.handle.Value(); h != nil {
		return h
	}
	h := &Handle{px: px}
	px.handle = weak.Make(h)
	return h
}

// Conn returns the wrapped raw connection, or nil once the lease has ended
func (px *Proxy) Conn() Conn {
	px.mu.RLock()
	defer px.mu.RUnlock()
	if px.m == nil {
		return nil
	}
	return px.m.conn
}

func (px *Proxy) member() *member {
	px.mu.RLock()
	defer px.mu.RUnlock()
	return px.m
}

// take detaches the connection from the proxy. Exactly one caller gets it.
func (px *Proxy) take() *member {
	px.mu.Lock()
	defer px.mu.Unlock()
	m := px.m
	px.m = nil
	px.handle = weak.Pointer[Handle]{}
	return m
}

// conn is the forwarding target for Handle methods
func (px *Proxy) conn() (Conn, error) {
	if px.released.Load() {
		return nil, ErrReleased
	}
	px.mu.RLock()
	defer px.mu.RUnlock()
	if px.m == nil {
		return nil, ErrReleased
	}
	return px.m.conn, nil
}

// Released reports whether the lease has ended
func (px *Proxy) Released() bool {
	return px.released.Load()
}

// Abandoned reports whether the consumer can no longer reach the handle. It
// is only meaningful to the leak scanner.
func (px *Proxy) Abandoned() bool {
	px.mu.RLock()
	defer px.mu.RUnlock()
	if px.m == nil {
		return true
	}
	return px.handle.Value() == nil
}

// Release ends the lease: the connection is put back into its baseline
// session state, the listener is notified and the proxy forgets the
// connection. Only the first call has any effect.
func (px *Proxy) Release() {
	if !px.released.CompareAndSwap(false, true) {
		return
	}
	m := px.member()
	if m == nil {
		return
	}

	px.normalize(m)
	px.listener.Released(px)
	px.take()
}

// HardClose closes the wrapped connection outright. The listener is not
// notified: the connection leaves the pool instead of being recycled.
func (px *Proxy) HardClose() error {
	px.released.Store(true)

	m := px.take()
	if m == nil {
		return nil
	}
	return m.conn.Close()
}

// normalize runs every reset step even when earlier ones fail. A partially
// reset connection goes back to the pool; failures are only logged.
func (px *Proxy) normalize(m *member) {
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	conn := m.conn
	px.step("rollback", func() error {
		auto, err := conn.AutoCommit()
		if err != nil {
			return err
		}
		if !auto {
			return conn.Rollback(ctx)
		}
		return nil
	})
	px.step("restore_isolation", func() error {
		level, err := conn.IsolationLevel(ctx)
		if err != nil {
			return err
		}
		if level != m.baseline {
			return conn.SetIsolationLevel(ctx, m.baseline)
		}
		return nil
	})
	px.step("restore_autocommit", func() error {
		auto, err := conn.AutoCommit()
		if err != nil {
			return err
		}
		if !auto {
			return conn.SetAutoCommit(ctx, true)
		}
		return nil
	})
	px.step("clear_warnings", conn.ClearWarnings)
}

func (px *Proxy) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			px.resetFailures.Add(1)
			px.log.Error("connection reset step panicked", logger.Operation(name), logger.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		px.resetFailures.Add(1)
		px.log.Error("connection reset step failed", logger.Operation(name), logger.ErrorField(err))
	}
}

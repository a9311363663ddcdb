// Package pool keeps expensive database sessions alive between short-lived
// uses. Acquire hands out a Handle that looks like the session itself;
// closing the handle resets the session and puts it back on the free list.
// Handles that are dropped without being closed are found by a background
// scanner once the garbage collector has proven them unreachable.
//
// The pool never blocks and never refuses: when no session is free a new one
// is created. There is no upper bound on the number of sessions.
package pool

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guileen/poolman/logger"
)

// DefaultCloseCheckInterval is how often the leak scanner runs by default
const DefaultCloseCheckInterval = 60 * time.Second

// Options configures a Pool. It is copied at construction and never changes
// afterwards.
type Options struct {
	// Name identifies the pool in logs and metrics.
	Name string
	// CloseCheckInterval is the pause between leak scans.
	// Default: 60 seconds
	CloseCheckInterval time.Duration
	// Logger receives pool events. Default: logger.Logger
	Logger *slog.Logger
	// Journal, if set, records every lease the pool had to reclaim.
	Journal LeakJournal
	// OnShutdown is closed, in order, as the last step of Shutdown.
	OnShutdown []io.Closer
}

// DefaultOptions returns Options with sensible defaults
func DefaultOptions() Options {
	return Options{
		CloseCheckInterval: DefaultCloseCheckInterval,
	}
}

// Stats contains statistics about the pool
type Stats struct {
	Idle   int `json:"idle"`   // sessions on the free list
	Active int `json:"active"` // leases currently outstanding

	Created      uint64 `json:"created"`       // sessions created by the factory
	Reused       uint64 `json:"reused"`        // acquires served from the free list
	Released     uint64 `json:"released"`      // leases ended, explicitly or not
	Reclaimed    uint64 `json:"reclaimed"`     // leases ended by the leak scanner
	Forced       uint64 `json:"forced"`        // leases ended by shutdown
	Discarded    uint64 `json:"discarded"`     // sessions dropped through Discard
	CreateErrors uint64 `json:"create_errors"` // factory failures
	ResetErrors  uint64 `json:"reset_errors"`  // failed reset steps on release
	CloseErrors  uint64 `json:"close_errors"`  // failed hard closes
}

// Pool manages the sessions for one (locator, configuration) pair
type Pool struct {
	name    string
	factory Factory
	opts    Options
	log     *slog.Logger

	freeMu sync.Mutex
	free   []*member

	activeMu sync.Mutex
	active   map[*Proxy]struct{}

	closed   atomic.Bool
	once     sync.Once
	done     chan struct{}
	scanDone chan struct{}

	counters counters
}

type counters struct {
	created      atomic.Uint64
	reused       atomic.Uint64
	released     atomic.Uint64
	reclaimed    atomic.Uint64
	forced       atomic.Uint64
	discarded    atomic.Uint64
	createErrors atomic.Uint64
	resetErrors  atomic.Uint64
	closeErrors  atomic.Uint64
}

// New creates a pool around factory and starts its leak scanner
func New(factory Factory, opts Options) *Pool {
	if opts.CloseCheckInterval <= 0 {
		opts.CloseCheckInterval = DefaultCloseCheckInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.Logger
	}
	opts.OnShutdown = append([]io.Closer(nil), opts.OnShutdown...)

	p := &Pool{
		name:     opts.Name,
		factory:  factory,
		opts:     opts,
		log:      opts.Logger.With(logger.Component("pool"), logger.Pool(opts.Name)),
		active:   make(map[*Proxy]struct{}),
		done:     make(chan struct{}),
		scanDone: make(chan struct{}),
	}

	go p.scanLoop()

	p.log.Debug("pool created", logger.Duration("close_check_interval", opts.CloseCheckInterval))
	return p
}

// Name returns the pool name
func (p *Pool) Name() string {
	return p.name
}

// CloseCheckInterval returns the leak scan interval fixed at construction
func (p *Pool) CloseCheckInterval() time.Duration {
	return p.opts.CloseCheckInterval
}

// Acquire returns a handle to a free session, creating a new session when
// none is free. Factory errors are returned as they are, wrapped in a
// *PoolError that matches ErrResourceCreation.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if p.closed.Load() {
		return nil, &PoolError{Op: "acquire", Pool: p.name, Err: ErrPoolClosed}
	}

	m := p.popFree()
	if m != nil {
		p.counters.reused.Add(1)
		p.log.Debug("connection reused", logger.Uint64("leases", m.leases))
	} else {
		conn, err := p.factory(ctx)
		if err != nil {
			p.counters.createErrors.Add(1)
			return nil, creationError(p.name, err)
		}
		m = &member{conn: conn, createdAt: time.Now()}
		p.counters.created.Add(1)
		p.log.Debug("connection created")
	}

	px, err := newProxy(ctx, m, p, p.log)
	if err != nil {
		p.closeMember(m)
		return nil, &PoolError{Op: "acquire", Pool: p.name, Err: err}
	}
	h := px.Handle()

	p.activeMu.Lock()
	p.active[px] = struct{}{}
	p.activeMu.Unlock()

	// Shutdown may have taken its snapshot of the active set just before
	// this lease was added.
	if p.closed.Load() {
		px.Release()
		return nil, &PoolError{Op: "acquire", Pool: p.name, Err: ErrPoolClosed}
	}
	return h, nil
}

func (p *Pool) popFree() *member {
	p.freeMu.Lock()
	defer p.freeMu.Unlock()

	if len(p.free) == 0 {
		return nil
	}
	m := p.free[0]
	p.free[0] = nil
	p.free = p.free[1:]
	return m
}

// Released implements ReleaseListener. The session goes back on the free
// list, or is closed when the pool has already shut down.
func (p *Pool) Released(px *Proxy) {
	if n := px.resetFailures.Load(); n > 0 {
		p.counters.resetErrors.Add(uint64(n))
	}

	if m := px.take(); m != nil {
		p.freeMu.Lock()
		if p.closed.Load() {
			p.freeMu.Unlock()
			p.closeMember(m)
		} else {
			p.free = append(p.free, m)
			p.freeMu.Unlock()
			p.log.Debug("connection freed", logger.Lease(px.id.String()))
		}
	}

	p.activeMu.Lock()
	delete(p.active, px)
	p.activeMu.Unlock()

	p.counters.released.Add(1)
}

// Discard drops the session behind h instead of recycling it. Use it when
// the session is known to be broken.
func (p *Pool) Discard(h *Handle) error {
	if h == nil || h.px.listener != ReleaseListener(p) {
		return &PoolError{Op: "discard", Pool: p.name, Err: ErrForeignHandle}
	}
	px := h.px

	p.activeMu.Lock()
	_, ok := p.active[px]
	delete(p.active, px)
	p.activeMu.Unlock()
	if !ok {
		return nil
	}

	p.counters.discarded.Add(1)
	if err := px.HardClose(); err != nil {
		p.counters.closeErrors.Add(1)
		p.log.Error("failed to close discarded connection", logger.Lease(px.id.String()), logger.ErrorField(err))
		return &PoolError{Op: "discard", Pool: p.name, Err: err}
	}
	p.log.Debug("connection discarded", logger.Lease(px.id.String()))
	return nil
}

func (p *Pool) closeMember(m *member) {
	if err := m.conn.Close(); err != nil {
		p.counters.closeErrors.Add(1)
		p.log.Error("failed to close connection", logger.ErrorField(err))
		return
	}
	p.log.Debug("connection closed", logger.Uint64("leases", m.leases))
}

func (p *Pool) snapshotActive() []*Proxy {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()

	out := make([]*Proxy, 0, len(p.active))
	for px := range p.active {
		out = append(out, px)
	}
	return out
}

// scanLoop reclaims abandoned leases until shutdown
func (p *Pool) scanLoop() {
	defer close(p.scanDone)

	ticker := time.NewTicker(p.opts.CloseCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if p.closed.Load() {
				return
			}
			p.scan()
		}
	}
}

func (p *Pool) scan() {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("leak scan failed", logger.Any("panic", r))
		}
	}()

	for _, px := range p.snapshotActive() {
		if px.Released() || !px.Abandoned() {
			continue
		}
		p.log.Warn("connection was not closed, reclaiming",
			logger.Lease(px.id.String()),
			logger.Duration("held", time.Since(px.acquiredAt)))
		p.counters.reclaimed.Add(1)
		p.recordLeak(px, LeakUnreachable)
		px.Release()
	}
}

// Shutdown closes every free session and forces every outstanding lease
// through release, which closes those sessions too. The leak scanner is
// stopped and the OnShutdown closers are closed. Only the first call does
// anything.
func (p *Pool) Shutdown() {
	p.once.Do(p.shutdown)
}

func (p *Pool) shutdown() {
	p.closed.Store(true)
	close(p.done)

	p.freeMu.Lock()
	idle := p.free
	p.free = nil
	p.freeMu.Unlock()

	for _, m := range idle {
		p.closeMember(m)
	}

	for _, px := range p.snapshotActive() {
		if px.Released() {
			continue
		}
		p.log.Warn("connection was not closed before shutdown, forcing release",
			logger.Lease(px.id.String()),
			logger.Duration("held", time.Since(px.acquiredAt)))
		p.counters.forced.Add(1)
		p.recordLeak(px, LeakShutdown)
		px.Release()
	}

	<-p.scanDone
	p.log.Debug("pool shut down")

	// The pool's own sinks may be among the closers
	for _, c := range p.opts.OnShutdown {
		if err := c.Close(); err != nil {
			logger.Error("failed to close pool resource on shutdown", logger.Pool(p.name), logger.ErrorField(err))
		}
	}
}

// Closed reports whether Shutdown has been called
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

func (p *Pool) recordLeak(px *Proxy, reason LeakReason) {
	if p.opts.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	err := p.opts.Journal.Record(ctx, Leak{
		Pool:        p.name,
		LeaseID:     px.id,
		AcquiredAt:  px.acquiredAt,
		ReclaimedAt: time.Now(),
		Reason:      reason,
	})
	if err != nil {
		p.log.Error("failed to record leak", logger.Lease(px.id.String()), logger.ErrorField(err))
	}
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	p.freeMu.Lock()
	idle := len(p.free)
	p.freeMu.Unlock()

	p.activeMu.Lock()
	active := len(p.active)
	p.activeMu.Unlock()

	return Stats{
		Idle:         idle,
		Active:       active,
		Created:      p.counters.created.Load(),
		Reused:       p.counters.reused.Load(),
		Released:     p.counters.released.Load(),
		Reclaimed:    p.counters.reclaimed.Load(),
		Forced:       p.counters.forced.Load(),
		Discarded:    p.counters.discarded.Load(),
		CreateErrors: p.counters.createErrors.Load(),
		ResetErrors:  p.counters.resetErrors.Load(),
		CloseErrors:  p.counters.closeErrors.Load(),
	}
}

// LeakReason tells why a lease was ended by the pool rather than its consumer
type LeakReason string

const (
	// LeakUnreachable means the garbage collector found the handle unreachable
	LeakUnreachable LeakReason = "unreachable"
	// LeakShutdown means the lease was still open at shutdown
	LeakShutdown LeakReason = "shutdown"
)

// Leak describes one lease the pool had to end on its own
type Leak struct {
	Pool        string
	LeaseID     uuid.UUID
	AcquiredAt  time.Time
	ReclaimedAt time.Time
	Reason      LeakReason
}

// LeakJournal stores leak records for later inspection
type LeakJournal interface {
	Record(ctx context.Context, leak Leak) error
}

// Package registry memoizes pools by locator and configuration. At most one
// pool is ever built for a key, even when the first lookups race.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/guileen/poolman/config"
	"github.com/guileen/poolman/journal"
	"github.com/guileen/poolman/logger"
	"github.com/guileen/poolman/pool"
	"github.com/guileen/poolman/session"
)

var (
	// ErrClosed is returned by Get after Shutdown
	ErrClosed = errors.New("registry: shut down")
	// ErrUnknownDriver is returned when no session driver matches the driver option
	ErrUnknownDriver = errors.New("registry: unknown driver")
	// ErrDuplicateName is returned when a new key resolves to the name of a
	// pool that is already registered
	ErrDuplicateName = errors.New("registry: duplicate pool name")
)

// Key identifies a pool. Config is the canonical encoding of the properties
// seen at lookup time, so equal property sets always map to the same pool.
type Key struct {
	Locator string
	Config  string
}

// NewKey builds the key for locator and props
func NewKey(locator string, props map[string]string) Key {
	return Key{Locator: locator, Config: config.Canonical(props)}
}

func (k Key) shortID() string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(k.Locator+"\x00"+k.Config)).String()[:8]
}

// Entry is a registered pool together with its leak journal, if any
type Entry struct {
	Key     Key
	Pool    *pool.Pool
	Journal *journal.Journal
}

// Options configures a Registry
type Options struct {
	// Logger receives registry events. Pools log to their own sinks.
	// Default: logger.Logger
	Logger *slog.Logger
	// Registerer, if set, receives a collector exporting every pool's stats
	Registerer prometheus.Registerer
	// Format is the log record format of pool sinks, "text" or "json"
	Format string
}

// Registry owns every pool it creates and shuts them down together
type Registry struct {
	log    *slog.Logger
	format string

	mu       sync.Mutex
	entries  map[Key]*Entry
	order    []Key
	journals map[string]*journal.Journal
	closed   bool

	once sync.Once
}

// New creates an empty registry
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logger.Logger
	}
	if opts.Format == "" {
		opts.Format = "text"
	}
	r := &Registry{
		log:      opts.Logger.With(logger.Component("registry")),
		format:   opts.Format,
		entries:  make(map[Key]*Entry),
		journals: make(map[string]*journal.Journal),
	}
	if opts.Registerer != nil {
		if err := opts.Registerer.Register(pool.NewCollector(r.Pools)); err != nil {
			r.log.Error("failed to register pool collector", logger.ErrorField(err))
		}
	}
	return r
}

// Get returns the pool for locator and props, building it on first use.
// The pool is built while the registry lock is held.
func (r *Registry) Get(locator string, props map[string]string) (*pool.Pool, error) {
	key := NewKey(locator, props)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if e, ok := r.entries[key]; ok {
		return e.Pool, nil
	}

	e, err := r.build(key, props)
	if err != nil {
		return nil, err
	}
	r.entries[key] = e
	r.order = append(r.order, key)
	return e.Pool, nil
}

// build creates the pool for key. Option errors are logged to the pool's
// error sink and the affected options keep their defaults.
func (r *Registry) build(key Key, props map[string]string) (*Entry, error) {
	opts, optErrs := config.Parse(props)
	if opts.Name == "" {
		opts.Name = opts.Driver + "-" + key.shortID()
	}
	// Names label metrics and api routes, so they must stay unique
	if r.named(opts.Name) {
		err := fmt.Errorf("%w %q", ErrDuplicateName, opts.Name)
		r.log.Error("failed to build pool", logger.Pool(opts.Name), logger.ErrorField(err))
		return nil, err
	}

	sinks, sinkErrs := logger.OpenSinks(opts.DebugLog, opts.ErrorLog)
	poolLog := sinks.Logger(logger.LevelForDebug(opts.DebugLevel), r.format)
	log := poolLog.With(logger.Component("pool"), logger.Pool(opts.Name))
	for _, err := range optErrs {
		log.Error("invalid pool option", logger.String("key", err.Key), logger.ErrorField(err))
	}
	for _, err := range sinkErrs {
		log.Error("failed to open log sink", logger.ErrorField(err))
	}

	driver, ok := session.Lookup(opts.Driver)
	if !ok {
		err := fmt.Errorf("%w %q", ErrUnknownDriver, opts.Driver)
		log.Error("failed to build pool", logger.ErrorField(err))
		sinks.Close()
		return nil, err
	}

	e := &Entry{Key: key}
	if opts.LeakJournal != "" {
		j, err := r.journal(opts.LeakJournal)
		if err != nil {
			log.Error("failed to open leak journal", logger.String("dir", opts.LeakJournal), logger.ErrorField(err))
		} else {
			e.Journal = j
		}
	}

	poolOpts := pool.Options{
		Name:               opts.Name,
		CloseCheckInterval: opts.CloseCheckInterval,
		Logger:             poolLog,
		OnShutdown:         []io.Closer{sinks},
	}
	if e.Journal != nil {
		poolOpts.Journal = e.Journal
	}
	e.Pool = pool.New(driver.Factory(key.Locator), poolOpts)

	r.log.Info("pool registered",
		logger.Pool(opts.Name),
		logger.String("driver", driver.Name),
		logger.Duration("close_check_interval", opts.CloseCheckInterval))
	return e, nil
}

// named reports whether a registered pool is called name. r.mu must be held.
func (r *Registry) named(name string) bool {
	for _, e := range r.entries {
		if e.Pool.Name() == name {
			return true
		}
	}
	return false
}

// journal returns the journal for dir, opening it once. Pools configured
// with the same directory share it.
func (r *Registry) journal(dir string) (*journal.Journal, error) {
	if j, ok := r.journals[dir]; ok {
		return j, nil
	}
	j, err := journal.Open(dir)
	if err != nil {
		return nil, err
	}
	r.journals[dir] = j
	return j, nil
}

// Lookup returns the pool already registered for key
func (r *Registry) Lookup(key Key) (*pool.Pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	return e.Pool, true
}

// Entries returns every registered pool in creation order
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, *r.entries[k])
	}
	return out
}

// Find returns the entry of the pool called name
func (r *Registry) Find(name string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.Pool.Name() == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Pools returns every registered pool in creation order
func (r *Registry) Pools() []*pool.Pool {
	entries := r.Entries()
	out := make([]*pool.Pool, len(entries))
	for i, e := range entries {
		out[i] = e.Pool
	}
	return out
}

// Shutdown shuts down every pool and closes the leak journals. Only the
// first call does anything; Get fails with ErrClosed from then on.
func (r *Registry) Shutdown() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		dirs := make([]string, 0, len(r.journals))
		for dir := range r.journals {
			dirs = append(dirs, dir)
		}
		sort.Strings(dirs)
		journals := make([]*journal.Journal, len(dirs))
		for i, dir := range dirs {
			journals[i] = r.journals[dir]
		}
		r.mu.Unlock()

		for _, p := range r.Pools() {
			p.Shutdown()
		}

		for i, j := range journals {
			if err := j.Close(); err != nil {
				r.log.Error("failed to close leak journal", logger.String("dir", dirs[i]), logger.ErrorField(err))
			}
		}
		r.log.Info("registry shut down")
	})
}

// ShutdownOnSignal shuts the registry down when one of signals arrives or
// ctx is done. Without signals it listens for SIGINT and SIGTERM. The
// returned channel is closed once shutdown has finished.
func (r *Registry) ShutdownOnSignal(ctx context.Context, signals ...os.Signal) <-chan struct{} {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			r.log.Info("received signal, shutting down pools", logger.String("signal", sig.String()))
		case <-ctx.Done():
		}
		r.Shutdown()
	}()
	return done
}

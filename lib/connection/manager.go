// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/workerpool"
)

// ManagerConfig configures a Manager. Zero fields take the defaults
// documented on each.
type ManagerConfig struct {
	// Pool is the default pool for listeners connected without
	// WithPool. When nil the manager creates an unbounded
	// workerpool.Pool of its own and closes it in Teardown.
	Pool Pool

	// AcceptTimeout, GracePeriod, and DisposeTimeout are the defaults
	// for every listener; see AcceptorConfig. Zero means
	// DefaultAcceptTimeout, DefaultGracePeriod, DefaultDisposeTimeout.
	AcceptTimeout  time.Duration
	GracePeriod    time.Duration
	DisposeTimeout time.Duration

	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
}

// ListenerStatus is a point-in-time description of one registered
// listener.
type ListenerStatus struct {
	Name     string    `json:"name"`
	Network  string    `json:"network"`
	Address  string    `json:"address"`
	State    string    `json:"state"`
	Active   int       `json:"active"`
	Accepted uint64    `json:"accepted"`
	Since    time.Time `json:"since"`
}

// Manager is a registry of named, running acceptors. It is safe for
// concurrent use.
type Manager struct {
	config    ManagerConfig
	logger    *slog.Logger
	pool      Pool
	ownedPool *workerpool.Pool

	// mu serializes Connect, Disconnect, and Teardown against one
	// another. A name is in acceptors exactly while its acceptor runs.
	mu        sync.Mutex
	acceptors map[string]*registration
	closed    bool
}

type registration struct {
	acceptor *Acceptor
	listener Listener
}

// NewManager creates an empty Manager.
func NewManager(config ManagerConfig) *Manager {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Observer == nil {
		config.Observer = nopObserver{}
	}

	manager := &Manager{
		config:    config,
		logger:    config.Logger,
		pool:      config.Pool,
		acceptors: make(map[string]*registration),
	}
	if manager.pool == nil {
		manager.ownedPool = workerpool.New(workerpool.Config{
			Clock:  config.Clock,
			Logger: config.Logger,
		})
		manager.pool = manager.ownedPool
	}
	return manager
}

// Connect starts accepting connections on listener under name, handing
// each one to a handler from factory. The accept loop is submitted to
// the pool before Connect returns.
//
// Connect fails with ErrDuplicateName if name is already registered,
// leaving the existing listener untouched. On any failure the manager
// does not take ownership of listener; the caller still has to close
// it.
func (m *Manager) Connect(name string, listener Listener, factory HandlerFactory, options ...ConnectOption) error {
	var settings connectOptions
	for _, option := range options {
		option(&settings)
	}
	pool := settings.pool
	if pool == nil {
		pool = m.pool
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("connecting %q: %w", name, ErrManagerClosed)
	}
	if _, exists := m.acceptors[name]; exists {
		return fmt.Errorf("connecting %q: %w", name, ErrDuplicateName)
	}

	acceptor, err := NewAcceptor(AcceptorConfig{
		Name:           name,
		Listener:       listener,
		Factory:        factory,
		Pool:           pool,
		AcceptTimeout:  firstNonZero(settings.acceptTimeout, m.config.AcceptTimeout),
		GracePeriod:    firstNonZero(settings.gracePeriod, m.config.GracePeriod),
		DisposeTimeout: firstNonZero(settings.disposeTimeout, m.config.DisposeTimeout),
		Limiter:        settings.limiter,
		Clock:          m.config.Clock,
		Logger:         m.logger,
		Observer:       m.config.Observer,
	})
	if err != nil {
		return fmt.Errorf("connecting %q: %w", name, err)
	}
	if err := acceptor.Start(); err != nil {
		return fmt.Errorf("connecting %q: %w", name, err)
	}

	m.acceptors[name] = &registration{acceptor: acceptor, listener: listener}
	return nil
}

// Disconnect gracefully stops the listener registered under name and
// closes its socket. It is DisconnectMode(name, Graceful).
func (m *Manager) Disconnect(name string) error {
	return m.DisconnectMode(name, Graceful)
}

// DisconnectMode unregisters name, disposes its acceptor using mode,
// and closes the listening socket. It fails with ErrNotFound if name is
// not registered.
//
// The name is free for a new Connect as soon as DisconnectMode starts
// disposing. A returned error wrapping ErrShutdownIncomplete means
// some work did not acknowledge cancellation in time; the name is
// still unregistered and the socket still closed.
func (m *Manager) DisconnectMode(name string, mode StopMode) error {
	m.mu.Lock()
	entry, exists := m.acceptors[name]
	if exists {
		delete(m.acceptors, name)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("disconnecting %q: %w", name, ErrNotFound)
	}

	disposeErr := entry.acceptor.Dispose(mode)

	var closeErr error
	if err := entry.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		closeErr = fmt.Errorf("closing listening socket: %w", err)
	}

	if err := errors.Join(disposeErr, closeErr); err != nil {
		return fmt.Errorf("disconnecting %q: %w", name, err)
	}
	return nil
}

// Teardown gracefully disconnects every registered listener. Failures
// are logged and do not stop the remaining disconnects. After Teardown,
// Connect fails with ErrManagerClosed.
//
// If the manager created its own pool, Teardown closes it once every
// listener stopped cleanly. When some handler was abandoned the pool
// is left to drain on its own rather than blocking on that handler.
func (m *Manager) Teardown() {
	m.mu.Lock()
	m.closed = true
	names := m.namesLocked()
	m.mu.Unlock()

	clean := true
	for _, name := range names {
		if err := m.Disconnect(name); err != nil {
			m.logger.Error("teardown: disconnect failed", "listener", name, "error", err)
			if errors.Is(err, ErrShutdownIncomplete) {
				clean = false
			}
		}
	}

	if m.ownedPool == nil {
		return
	}
	if clean {
		m.ownedPool.Close()
		return
	}
	m.logger.Warn("teardown: leaving worker pool to drain abandoned handlers")
}

// Lookup returns the acceptor registered under name.
func (m *Manager) Lookup(name string) (*Acceptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, exists := m.acceptors[name]
	if !exists {
		return nil, false
	}
	return entry.acceptor, true
}

// Names returns the registered listener names in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.namesLocked()
}

func (m *Manager) namesLocked() []string {
	names := make([]string, 0, len(m.acceptors))
	for name := range m.acceptors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Snapshot describes every registered listener, sorted by name.
func (m *Manager) Snapshot() []ListenerStatus {
	m.mu.Lock()
	acceptors := make([]*Acceptor, 0, len(m.acceptors))
	for _, entry := range m.acceptors {
		acceptors = append(acceptors, entry.acceptor)
	}
	m.mu.Unlock()

	statuses := make([]ListenerStatus, 0, len(acceptors))
	for _, acceptor := range acceptors {
		statuses = append(statuses, acceptor.Status())
	}
	slices.SortFunc(statuses, func(a, b ListenerStatus) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return statuses
}

func firstNonZero(values ...time.Duration) time.Duration {
	for _, value := range values {
		if value != 0 {
			return value
		}
	}
	return 0
}

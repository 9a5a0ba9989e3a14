// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/netutil"
)

// Defaults applied when the corresponding AcceptorConfig field is
// zero.
const (
	DefaultAcceptTimeout  = 500 * time.Millisecond
	DefaultGracePeriod    = 5 * time.Second
	DefaultDisposeTimeout = 2 * time.Second
)

// Backoff bounds for transient accept errors (EMFILE, ENFILE, ...),
// matching net/http.Server.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// AcceptorConfig configures an Acceptor.
type AcceptorConfig struct {
	// Name identifies the listener in logs, metrics, and the manager
	// registry.
	Name string

	// Listener is the socket to accept on. The acceptor never closes
	// it; whoever disposes the acceptor closes the socket afterwards.
	Listener Listener

	// Factory supplies a handler per connection.
	Factory HandlerFactory

	// Pool runs the accept loop and every runner.
	Pool Pool

	// AcceptTimeout bounds each Accept call so the loop periodically
	// observes cancellation.
	AcceptTimeout time.Duration

	// GracePeriod is how long graceful disposal lets in-flight
	// handlers finish before cancelling them.
	GracePeriod time.Duration

	// DisposeTimeout bounds each wait for a cancelled accept loop or
	// set of cancelled runners to acknowledge.
	DisposeTimeout time.Duration

	// Limiter, when non-nil, throttles how fast connections are
	// accepted. Connections beyond the rate wait in the kernel's
	// accept backlog.
	Limiter *rate.Limiter

	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
}

// Acceptor owns one listening socket and the accept loop that
// dispatches its connections.
type Acceptor struct {
	name           string
	listener       Listener
	factory        HandlerFactory
	pool           Pool
	acceptTimeout  time.Duration
	gracePeriod    time.Duration
	disposeTimeout time.Duration
	limiter        *rate.Limiter
	clock          clock.Clock
	logger         *slog.Logger
	observer       Observer

	state    atomic.Int32
	started  time.Time
	accepted atomic.Uint64

	// ctx is the accept loop's cancellation signal and loopDone its
	// completion signal.
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	// active holds every runner created by the loop that has not yet
	// finished. The loop adds, runners remove themselves, and Dispose
	// seals it and takes the final snapshot. Once sealed, nothing is
	// added.
	mu     sync.Mutex
	active map[*runner]struct{}
	sealed bool

	disposeOnce sync.Once
	disposeErr  error
}

// NewAcceptor validates config and returns an acceptor in the Created
// state.
func NewAcceptor(config AcceptorConfig) (*Acceptor, error) {
	if config.Name == "" {
		return nil, errors.New("acceptor name is required")
	}
	if config.Listener == nil {
		return nil, fmt.Errorf("acceptor %q: listener is required", config.Name)
	}
	if config.Factory == nil {
		return nil, fmt.Errorf("acceptor %q: handler factory is required", config.Name)
	}
	if config.Pool == nil {
		return nil, fmt.Errorf("acceptor %q: worker pool is required", config.Name)
	}
	if config.AcceptTimeout < 0 || config.GracePeriod < 0 || config.DisposeTimeout < 0 {
		return nil, fmt.Errorf("acceptor %q: timeouts must not be negative", config.Name)
	}
	if config.Limiter != nil && config.Limiter.Limit() != rate.Inf && config.Limiter.Burst() < 1 {
		return nil, fmt.Errorf("acceptor %q: accept rate limiter needs a burst of at least 1", config.Name)
	}
	if config.AcceptTimeout == 0 {
		config.AcceptTimeout = DefaultAcceptTimeout
	}
	if config.GracePeriod == 0 {
		config.GracePeriod = DefaultGracePeriod
	}
	if config.DisposeTimeout == 0 {
		config.DisposeTimeout = DefaultDisposeTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Observer == nil {
		config.Observer = nopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Acceptor{
		name:           config.Name,
		listener:       config.Listener,
		factory:        config.Factory,
		pool:           config.Pool,
		acceptTimeout:  config.AcceptTimeout,
		gracePeriod:    config.GracePeriod,
		disposeTimeout: config.DisposeTimeout,
		limiter:        config.Limiter,
		clock:          config.Clock,
		logger:         config.Logger.With("listener", config.Name),
		observer:       config.Observer,
		ctx:            ctx,
		cancel:         cancel,
		loopDone:       make(chan struct{}),
		active:         make(map[*runner]struct{}),
	}, nil
}

// Name returns the listener name.
func (a *Acceptor) Name() string { return a.name }

// Address returns the listening socket's local address.
func (a *Acceptor) Address() string { return a.listener.Addr().String() }

// Network returns the listening socket's network ("tcp", "unix").
func (a *Acceptor) Network() string { return a.listener.Addr().Network() }

// State returns the current lifecycle state.
func (a *Acceptor) State() State { return State(a.state.Load()) }

// Since returns when the acceptor started.
func (a *Acceptor) Since() time.Time { return a.started }

// Accepted returns how many connections the loop has accepted.
func (a *Acceptor) Accepted() uint64 { return a.accepted.Load() }

// ActiveCount returns how many connections are currently being
// serviced.
func (a *Acceptor) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// Status describes the acceptor as of now.
func (a *Acceptor) Status() ListenerStatus {
	return ListenerStatus{
		Name:     a.name,
		Network:  a.Network(),
		Address:  a.Address(),
		State:    a.State().String(),
		Active:   a.ActiveCount(),
		Accepted: a.Accepted(),
		Since:    a.started,
	}
}

// Connections returns a snapshot of the connections currently being
// serviced, in no particular order.
func (a *Acceptor) Connections() []ConnectionInfo {
	runners := a.snapshot()
	infos := make([]ConnectionInfo, 0, len(runners))
	for _, r := range runners {
		infos = append(infos, r.info())
	}
	return infos
}

// Start moves the acceptor to Running and submits its accept loop to
// the pool. The loop runs asynchronously; Start does not wait for the
// first Accept.
func (a *Acceptor) Start() error {
	if !a.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return fmt.Errorf("acceptor %q: %w (state %s)", a.name, ErrAlreadyStarted, a.State())
	}
	a.started = a.clock.Now()

	if err := a.pool.Execute(a.acceptLoop); err != nil {
		a.cancel()
		close(a.loopDone)
		a.state.Store(int32(StateStopped))
		return fmt.Errorf("acceptor %q: submitting accept loop: %w", a.name, err)
	}

	a.observer.ListenerStarted(a.name, a.Address())
	a.logger.Info("listener started",
		"address", a.Address(),
		"accept_timeout", a.acceptTimeout,
	)
	return nil
}

// acceptLoop runs on a pool worker until the acceptor is disposed.
func (a *Acceptor) acceptLoop() {
	defer close(a.loopDone)

	backoff := time.Duration(0)
	for {
		if a.ctx.Err() != nil {
			return
		}
		if a.limiter != nil {
			if err := a.limiter.Wait(a.ctx); err != nil {
				return
			}
		}

		// Socket deadlines are kernel wall-clock time, not the injected
		// clock.
		if err := a.listener.SetDeadline(time.Now().Add(a.acceptTimeout)); err != nil { //nolint:realclock socket deadline
			if errors.Is(err, net.ErrClosed) {
				a.listenerLost(err)
				return
			}
			a.logger.Warn("setting accept deadline", "error", err)
		}
		// Dispose cancels before it expires the deadline, so checking
		// again here closes the window where this loop could overwrite
		// that expiry with a fresh deadline and sleep through it.
		if a.ctx.Err() != nil {
			return
		}

		conn, err := a.listener.Accept()
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			if netutil.IsTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				a.listenerLost(err)
				return
			}

			a.observer.AcceptFailed(a.name, err)
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			a.logger.Warn("accept failed; retrying", "error", err, "backoff", backoff)
			if !a.sleep(backoff) {
				return
			}
			continue
		}
		backoff = 0

		if a.ctx.Err() != nil {
			conn.Close()
			return
		}
		a.dispatch(conn)
	}
}

// dispatch tracks a runner for conn and submits it to the pool.
func (a *Acceptor) dispatch(conn net.Conn) {
	a.accepted.Add(1)
	a.observer.ConnectionAccepted(a.name)

	r := newRunner(a, conn)
	if !a.track(r) {
		// Dispose already took its final snapshot (the loop outlived
		// its dispose timeout), so no one would cancel this runner.
		r.cancel()
		r.finish(fmt.Errorf("listener stopped before dispatch: %w", context.Canceled))
		return
	}
	r.logger.Debug("connection accepted")

	if err := a.pool.Execute(r.run); err != nil {
		r.logger.Error("dispatching connection", "error", err)
		r.cancel()
		r.finish(fmt.Errorf("dispatching connection: %w", err))
	}
}

// listenerLost handles the socket being closed underneath a running
// acceptor. The loop cannot continue; the registration stays until the
// owner disconnects it.
func (a *Acceptor) listenerLost(err error) {
	a.observer.AcceptFailed(a.name, err)
	a.logger.Error("listening socket closed while acceptor running; accept loop exiting", "error", err)
}

// sleep waits for d or cancellation. Returns false if cancelled.
func (a *Acceptor) sleep(d time.Duration) bool {
	timer := a.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-a.ctx.Done():
		return false
	}
}

// track adds r to the active set. Returns false once the set is
// sealed.
func (a *Acceptor) track(r *runner) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return false
	}
	a.active[r] = struct{}{}
	return true
}

func (a *Acceptor) untrack(r *runner) {
	a.mu.Lock()
	delete(a.active, r)
	a.mu.Unlock()
}

func (a *Acceptor) snapshot() []*runner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// seal stops the active set from growing and returns its contents.
func (a *Acceptor) seal() []*runner {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
	return a.snapshotLocked()
}

func (a *Acceptor) snapshotLocked() []*runner {
	runners := make([]*runner, 0, len(a.active))
	for r := range a.active {
		runners = append(runners, r)
	}
	return runners
}

// Dispose stops the accept loop and winds down every connection the
// acceptor is servicing, according to mode. It does not close the
// listening socket.
//
// Every wait is bounded. If the loop or some handlers do not
// acknowledge cancellation in time, Dispose still completes the
// transition to Stopped and returns an error wrapping
// ErrShutdownIncomplete for each straggler.
//
// Dispose is idempotent: later calls return the first call's result
// once it is available.
func (a *Acceptor) Dispose(mode StopMode) error {
	a.disposeOnce.Do(func() {
		a.disposeErr = a.dispose(mode)
	})
	return a.disposeErr
}

func (a *Acceptor) dispose(mode StopMode) error {
	if a.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		a.cancel()
		return nil
	}
	if a.State() == StateStopped {
		// Start failed to submit the loop; nothing is running.
		return nil
	}
	a.state.Store(int32(StateStopping))
	a.logger.Info("listener stopping", "mode", mode.String(), "active", a.ActiveCount())

	var errs []error

	a.cancel()
	if err := a.listener.SetDeadline(expiredDeadline); err != nil && !errors.Is(err, net.ErrClosed) {
		a.logger.Debug("expiring accept deadline", "error", err)
	}
	if err := a.awaitLoop(); err != nil {
		errs = append(errs, err)
	}

	runners := a.seal()
	if mode == Graceful && len(runners) > 0 {
		runners = a.awaitGrace(runners)
	}
	errs = append(errs, a.disposeRunners(runners)...)

	a.mu.Lock()
	clear(a.active)
	a.mu.Unlock()

	a.state.Store(int32(StateStopped))
	a.observer.ListenerStopped(a.name)

	err := errors.Join(errs...)
	if err != nil {
		a.logger.Warn("listener stopped with work still running", "error", err)
	} else {
		a.logger.Info("listener stopped", "accepted", a.Accepted())
	}
	return err
}

func (a *Acceptor) awaitLoop() error {
	timer := a.clock.NewTimer(a.disposeTimeout)
	defer timer.Stop()
	select {
	case <-a.loopDone:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: accept loop for %q did not exit within %v", ErrShutdownIncomplete, a.name, a.disposeTimeout)
	}
}

// awaitGrace waits up to the grace period for runners to finish on
// their own and returns the ones that did not.
func (a *Acceptor) awaitGrace(runners []*runner) []*runner {
	timer := a.clock.NewTimer(a.gracePeriod)
	defer timer.Stop()

wait:
	for _, r := range runners {
		select {
		case <-r.done:
		case <-timer.C:
			break wait
		}
	}

	var remaining []*runner
	for _, r := range runners {
		if !r.finished() {
			remaining = append(remaining, r)
		}
	}
	if len(remaining) > 0 {
		a.logger.Info("grace period elapsed; cancelling remaining connections",
			"grace_period", a.gracePeriod,
			"remaining", len(remaining),
		)
	}
	return remaining
}

// disposeRunners cancels every runner at once and then waits, against
// a single shared bound, for each to acknowledge.
func (a *Acceptor) disposeRunners(runners []*runner) []error {
	if len(runners) == 0 {
		return nil
	}
	for _, r := range runners {
		r.interrupt()
	}

	timer := a.clock.NewTimer(a.disposeTimeout)
	defer timer.Stop()

	// Once the shared timer fires its channel is drained, so later
	// awaits see an already-expired deadline through expired.
	expired := make(chan time.Time)
	close(expired)
	deadline := timer.C

	var errs []error
	for _, r := range runners {
		if err := r.await(deadline); err != nil {
			errs = append(errs, err)
			deadline = expired
		}
	}
	return errs
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/switchboard/lib/netutil"
)

// expiredDeadline is any instant in the past. Setting it as a
// connection's deadline makes pending and future I/O fail at once.
var expiredDeadline = time.Unix(1, 0)

// ConnectionInfo describes one connection an acceptor is servicing.
type ConnectionInfo struct {
	ID            string    `json:"id"`
	RemoteAddress string    `json:"remote_address"`
	Since         time.Time `json:"since"`
}

// runner pairs one accepted connection with one handler. It is
// created by the accept loop, tracked in its acceptor's active set
// from creation until completion, and executed as a single unit of
// pool work.
type runner struct {
	acceptor *Acceptor
	conn     net.Conn
	id       string
	since    time.Time
	logger   *slog.Logger

	// ctx is the runner's cancellation signal; cancel is called by
	// disposal.
	ctx    context.Context
	cancel context.CancelFunc

	// done is closed after the connection is closed and the runner has
	// left the active set.
	done chan struct{}
}

func newRunner(acceptor *Acceptor, conn net.Conn) *runner {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &runner{
		acceptor: acceptor,
		conn:     conn,
		id:       id,
		since:    acceptor.clock.Now(),
		logger: acceptor.logger.With(
			"conn_id", id,
			"remote_address", remoteAddress(conn),
		),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (r *runner) info() ConnectionInfo {
	return ConnectionInfo{
		ID:            r.id,
		RemoteAddress: remoteAddress(r.conn),
		Since:         r.since,
	}
}

// run is the unit of pool work. Whatever happens inside the handler,
// the connection is closed, the runner leaves the active set, and done
// is closed.
func (r *runner) run() {
	var err error
	defer func() { r.finish(err) }()

	// Disposed while still queued behind other work: never hand the
	// connection to a handler.
	if r.ctx.Err() != nil {
		return
	}

	stop := context.AfterFunc(r.ctx, func() {
		if deadlineErr := r.conn.SetDeadline(expiredDeadline); deadlineErr != nil {
			r.logger.Debug("expiring connection deadline", "error", deadlineErr)
		}
	})
	defer stop()

	err = r.serve()
}

// serve obtains a handler, runs it, and releases it. A panicking
// handler is converted to an error so release and cleanup still
// happen.
func (r *runner) serve() (err error) {
	factory := r.acceptor.factory

	handler, err := factory.CreateHandler()
	if err != nil {
		return fmt.Errorf("creating handler: %w", err)
	}
	if handler == nil {
		return errors.New("creating handler: factory returned nil handler")
	}
	defer factory.ReleaseHandler(handler)

	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("handler panicked",
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("handler panicked: %v", recovered)
		}
	}()

	return handler.HandleConnection(r.ctx, r.conn)
}

func (r *runner) finish(err error) {
	interrupted := r.ctx.Err() != nil
	if closeErr := r.conn.Close(); closeErr != nil && !netutil.IsExpectedCloseError(closeErr) {
		r.logger.Debug("closing connection", "error", closeErr)
	}
	r.acceptor.untrack(r)
	r.cancel()

	duration := r.acceptor.clock.Now().Sub(r.since)
	var protocolErr *ProtocolError
	switch {
	case err == nil:
		r.logger.Debug("connection closed", "duration", duration)
	case errors.As(err, &protocolErr):
		r.logger.Info("connection closed after protocol error", "duration", duration, "error", err)
	case interrupted && (netutil.IsTimeout(err) || errors.Is(err, context.Canceled)):
		r.logger.Debug("connection interrupted by shutdown", "duration", duration, "error", err)
	case netutil.IsExpectedCloseError(err):
		r.logger.Debug("peer closed connection", "duration", duration, "error", err)
	default:
		r.logger.Warn("connection handler failed", "duration", duration, "error", err)
	}
	r.acceptor.observer.ConnectionClosed(r.acceptor.name, duration, err)

	close(r.done)
}

// interrupt requests cancellation. It does not wait.
func (r *runner) interrupt() {
	r.cancel()
}

// await waits for the runner to acknowledge completion or for
// deadline to fire, whichever comes first.
func (r *runner) await(deadline <-chan time.Time) error {
	select {
	case <-r.done:
		return nil
	default:
	}
	select {
	case <-r.done:
		return nil
	case <-deadline:
		return fmt.Errorf("%w: connection %s from %s still running", ErrShutdownIncomplete, r.id, remoteAddress(r.conn))
	}
}

func (r *runner) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func remoteAddress(conn net.Conn) string {
	if address := conn.RemoteAddr(); address != nil {
		return address.String()
	}
	return ""
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"net"

	"github.com/bureau-foundation/switchboard/lib/netutil"
)

// Handler processes exactly one accepted connection.
//
// HandleConnection must not close conn; the runner closes it after
// the handler returns. ctx is cancelled when the listener is disposed
// (immediately for forceful disposal, after the grace period for
// graceful disposal). At the same moment the connection's deadline is
// expired, so a blocked Read or Write fails with a timeout error.
//
// Return a *ProtocolError for peer misbehaviour and the I/O error
// otherwise. Errors are logged by the runner; they never affect other
// connections or the listener.
type Handler interface {
	HandleConnection(ctx context.Context, conn net.Conn) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn net.Conn) error

// HandleConnection calls f(ctx, conn).
func (f HandlerFunc) HandleConnection(ctx context.Context, conn net.Conn) error {
	return f(ctx, conn)
}

// HandlerFactory creates a Handler for each accepted connection and
// takes it back when the connection is done. ReleaseHandler is called
// exactly once for every Handler CreateHandler returned, even when
// HandleConnection failed or panicked. Whether released handlers are
// recycled or discarded is up to the factory.
//
// Both methods are called concurrently from many pool workers.
type HandlerFactory interface {
	CreateHandler() (Handler, error)
	ReleaseHandler(Handler)
}

// SharedHandler returns a factory that hands out the same handler for
// every connection. The handler must be safe for concurrent use.
func SharedHandler(handler Handler) HandlerFactory {
	return sharedFactory{handler: handler}
}

type sharedFactory struct {
	handler Handler
}

func (f sharedFactory) CreateHandler() (Handler, error) { return f.handler, nil }

func (sharedFactory) ReleaseHandler(Handler) {}

// Pool executes units of work asynchronously. Execute must not wait
// for work to run; it returns an error only when the pool refuses the
// unit (for example because it is shutting down).
//
// *workerpool.Pool satisfies Pool.
type Pool interface {
	Execute(work func()) error
}

// Listener is a listening socket whose Accept can be bounded by a
// deadline. *net.TCPListener and *net.UnixListener satisfy it.
type Listener = netutil.DeadlineListener

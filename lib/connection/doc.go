// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package connection owns named listening sockets, accepts inbound
// connections on each, and runs every accepted connection through a
// handler on a shared worker pool.
//
// Three types cooperate:
//
//   - [Manager] is the façade: a registry mapping listener names to
//     running acceptors. [Manager.Connect] starts one,
//     [Manager.Disconnect] stops it and closes its socket.
//   - [Acceptor] owns one listening socket and an accept loop that
//     occupies one pool worker for as long as the acceptor runs.
//   - runner pairs one accepted connection with one [Handler] from the
//     listener's [HandlerFactory] and drives it to completion on its
//     own pool worker. The runner, not the handler, closes the
//     connection.
//
// # Cancellation
//
// Pool workers are recycled, so neither the accept loop nor a runner
// can be joined. Each carries a context (its cancellation signal) and
// a done channel (its completion signal). Disposal cancels the context
// and then waits on the done channel for at most a configured bound.
//
// The accept loop observes cancellation at its accept timeout (500ms
// by default), and disposal additionally expires the listener's
// deadline so a blocked Accept returns at once. A runner's context is
// handed to its handler, and cancelling it also expires the
// connection's read/write deadline, which wakes a handler blocked in
// Read or Write without closing the connection.
//
// Shutdown is best-effort. A handler that ignores both its context and
// I/O errors keeps its worker; disposal gives up on it after the
// bound and reports [ErrShutdownIncomplete]. The connection is still
// closed by its runner whenever that handler finally returns.
//
// # Graceful and forceful disposal
//
// [Graceful] disposal stops accepting and then gives in-flight
// handlers up to the grace period to finish on their own before
// cancelling the stragglers. [Forceful] disposal cancels every
// in-flight handler immediately. Both then wait up to the dispose
// timeout for cancelled runners to acknowledge.
package connection

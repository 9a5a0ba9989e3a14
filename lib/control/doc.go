// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control implements the switchboard control socket: a CBOR
// request-response protocol on a Unix socket through which operators
// inspect and reconfigure a running connection manager.
//
// Each connection carries exactly one exchange. The client writes a
// CBOR map with an "action" field plus action-specific fields; the
// server replies with a [Response] envelope {ok, error, data} and the
// connection closes. CBOR is self-delimiting, so no framing is needed.
//
// [Server] is a connection.Handler. The daemon connects it to the
// manager it controls as an ordinary listener, so control requests are
// accepted, dispatched, and shut down by the same machinery as every
// other connection. [ManagerActions] registers the manager operations
// (list, connections, connect, disconnect) and [Call] is the client
// side.
package control

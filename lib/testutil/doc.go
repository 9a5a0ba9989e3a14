// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for switchboard
// packages.
//
// [RequireReceive], [RequireClosed], and [RequireEventually] wrap the
// timeout safety valve (select with a wall-clock fallback) so tests
// never call time.After themselves. They are the only real-clock
// waits in the test suite; everything that production code bounds by
// time is driven through a fake clock instead.
//
// [LoopbackListener] opens an ephemeral TCP listener on 127.0.0.1 and
// [SocketDir] returns a short directory for Unix sockets, whose paths
// are limited to 108 bytes.
//
// All helpers fail the test with t.Fatalf rather than returning
// errors.
//
// This package has no switchboard-internal dependencies.
package testutil

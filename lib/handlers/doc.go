// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the built-in connection handlers a
// switchboard listener can be configured with.
//
//   - echo copies everything the peer sends back to it.
//   - greeter speaks a small line protocol (see [Greeter]).
//   - digest reads until the peer half-closes and replies with the
//     BLAKE3-256 digest of what it read.
//   - status writes one CBOR-encoded snapshot of the connection
//     manager and closes.
//
// [Lookup] maps a configured handler kind to a
// connection.HandlerFactory. [Recycling] builds factories that reuse
// released handlers instead of allocating one per connection.
package handlers

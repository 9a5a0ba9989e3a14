// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small socket helpers shared by the connection
// subsystem and the binaries: error classification for accept loops
// and connection teardown, and listener construction with socket
// options that net.Listen does not expose.
package netutil

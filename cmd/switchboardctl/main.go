// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Switchboardctl talks to a running switchboard daemon over its
// control socket.
//
//	switchboardctl [--socket PATH] [--json | --raw] <command> [args]
//
// Commands:
//
//	list                          listeners and their connection counts
//	connections NAME              connections a listener is serving
//	connect NAME ADDRESS          open a listener (--handler, --network, --accept-rate)
//	disconnect NAME               close a listener (--forceful skips the grace period)
//	actions                       actions the daemon supports
package main

import (
	"os"

	"github.com/bureau-foundation/switchboard/lib/process"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

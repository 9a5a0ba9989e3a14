// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workerpool executes submitted units of work on recycled
// goroutines.
//
// A [Pool] hands each unit to an idle worker when one exists, spawns a
// new worker while fewer than MaxWorkers are running, and otherwise
// queues the unit in FIFO order until a worker frees up. Workers that
// stay idle for IdleTimeout exit, so a burst of connections does not
// leave a permanent crowd of parked goroutines behind.
//
// Because workers are reused, a submitter can never "join" the worker
// that ran its unit. Code that needs to know when its unit finished
// (the connection acceptor and runner) carries its own completion
// signal.
//
// A bounded pool must be provisioned for every long-running unit it
// hosts: each accept loop holds one worker for its whole lifetime and
// each connection holds one for the duration of its handler. Work
// submitted beyond that waits in the queue.
package workerpool

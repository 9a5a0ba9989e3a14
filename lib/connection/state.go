// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import "fmt"

// State is an acceptor's lifecycle position. Transitions only move
// forward: Created → Running → Stopping → Stopped. An acceptor that is
// disposed before it starts goes straight from Created to Stopped.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StopMode selects how disposal treats connections that are still
// being handled.
type StopMode int

const (
	// Graceful lets in-flight handlers finish within the grace period
	// before cancelling whatever remains.
	Graceful StopMode = iota

	// Forceful cancels in-flight handlers immediately.
	Forceful
)

func (m StopMode) String() string {
	switch m {
	case Graceful:
		return "graceful"
	case Forceful:
		return "forceful"
	default:
		return fmt.Sprintf("stopmode(%d)", int(m))
	}
}

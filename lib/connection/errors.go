// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName is returned by Connect when the name is already
	// registered.
	ErrDuplicateName = errors.New("listener name already registered")

	// ErrNotFound is returned by Disconnect for an unregistered name.
	ErrNotFound = errors.New("no listener registered under that name")

	// ErrShutdownIncomplete reports that an accept loop or a handler
	// did not acknowledge cancellation within its bound. The listener
	// is still unregistered and its socket closed; only the abandoned
	// worker is unaccounted for.
	ErrShutdownIncomplete = errors.New("shutdown incomplete")

	// ErrManagerClosed is returned by Connect after Teardown.
	ErrManagerClosed = errors.New("connection manager torn down")

	// ErrAlreadyStarted is returned by Start on an acceptor that has
	// left the Created state.
	ErrAlreadyStarted = errors.New("acceptor already started")
)

// ProtocolError is returned by handlers when the peer violates the
// application protocol, as opposed to an I/O failure on the socket.
type ProtocolError struct {
	// Reason describes the violation.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

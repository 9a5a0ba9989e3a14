// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"fmt"
	"slices"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/connection"
)

// Handler kinds accepted by Lookup.
const (
	KindEcho    = "echo"
	KindGreeter = "greeter"
	KindDigest  = "digest"
	KindStatus  = "status"
)

// ErrUnknownKind is returned by Lookup for an unrecognized kind.
var ErrUnknownKind = errors.New("unknown handler kind")

// Deps are the collaborators some handler kinds need.
type Deps struct {
	// Snapshot reports the connection manager's listeners. Required
	// by the status handler.
	Snapshot func() []connection.ListenerStatus

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// Kinds returns every kind Lookup accepts, sorted.
func Kinds() []string {
	kinds := []string{KindEcho, KindGreeter, KindDigest, KindStatus}
	slices.Sort(kinds)
	return kinds
}

// Lookup returns a new factory for kind. Each call returns an
// independent factory: two greeter listeners do not share messages
// or counters.
func Lookup(kind string, deps Deps) (connection.HandlerFactory, error) {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	switch kind {
	case KindEcho:
		return connection.SharedHandler(Echo{}), nil
	case KindGreeter:
		return connection.SharedHandler(NewGreeter(GreeterConfig{Clock: deps.Clock})), nil
	case KindDigest:
		return NewDigestFactory(), nil
	case KindStatus:
		if deps.Snapshot == nil {
			return nil, fmt.Errorf("handler %q: no snapshot source", kind)
		}
		return connection.SharedHandler(Status{Snapshot: deps.Snapshot, Clock: deps.Clock}), nil
	default:
		return nil, fmt.Errorf("%w %q (want one of %v)", ErrUnknownKind, kind, Kinds())
	}
}

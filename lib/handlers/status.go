// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/connection"
)

// StatusReport is the CBOR document the status handler writes.
type StatusReport struct {
	Time      time.Time                   `cbor:"time"`
	Listeners []connection.ListenerStatus `cbor:"listeners"`
}

// Status writes one StatusReport built from Snapshot and returns.
type Status struct {
	Snapshot func() []connection.ListenerStatus
	Clock    clock.Clock
}

func (s Status) HandleConnection(_ context.Context, conn net.Conn) error {
	report := StatusReport{
		Time:      s.Clock.Now(),
		Listeners: s.Snapshot(),
	}
	if err := codec.NewEncoder(conn).Encode(report); err != nil {
		return fmt.Errorf("writing status report: %w", err)
	}
	return nil
}

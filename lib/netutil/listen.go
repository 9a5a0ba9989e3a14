// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DeadlineListener is a net.Listener whose Accept can be bounded by a
// deadline. *net.TCPListener and *net.UnixListener satisfy it.
type DeadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// ListenOptions configures Listen.
type ListenOptions struct {
	// ReusePort sets SO_REUSEPORT so several processes (or several
	// named listeners) can bind the same TCP address and let the
	// kernel balance connections between them.
	ReusePort bool

	// RemoveStale removes an existing Unix socket file at the address
	// before binding, but only when nothing is listening on it. A live
	// socket fails with EADDRINUSE. Ignored for TCP.
	RemoveStale bool
}

// Listen opens a stream listener on network ("tcp", "tcp4", "tcp6",
// or "unix") and address.
func Listen(ctx context.Context, network, address string, options ListenOptions) (DeadlineListener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	case "unix":
		if options.RemoveStale {
			if err := removeStaleSocket(address); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported network %q (want tcp, tcp4, tcp6, or unix)", network)
	}

	config := net.ListenConfig{}
	if options.ReusePort && network != "unix" {
		config.Control = reusePort
	}

	listener, err := config.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s %s: %w", network, address, err)
	}

	deadlineListener, ok := listener.(DeadlineListener)
	if !ok {
		listener.Close()
		return nil, fmt.Errorf("listener for %s %s does not support accept deadlines", network, address)
	}
	return deadlineListener, nil
}

// staleProbeTimeout bounds the dial that checks whether a socket file
// still has a listener behind it.
const staleProbeTimeout = time.Second

// removeStaleSocket removes the socket file at path if no process is
// accepting on it. Connection refused is the only proof of staleness;
// any other dial failure leaves the file for bind to report.
func removeStaleSocket(path string) error {
	conn, err := net.DialTimeout("unix", path, staleProbeTimeout)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socket %s is in use: %w", path, syscall.EADDRINUSE)
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	return nil
}

func reusePort(_, _ string, raw syscall.RawConn) error {
	var optionErr error
	err := raw.Control(func(fd uintptr) {
		optionErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	if optionErr != nil {
		return fmt.Errorf("setting SO_REUSEPORT: %w", optionErr)
	}
	return nil
}

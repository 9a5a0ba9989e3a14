// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"net"
	"os"
	"testing"
)

// LoopbackListener listens on an ephemeral TCP port on 127.0.0.1. The
// listener is closed when the test completes; closing it earlier is
// harmless.
func LoopbackListener(t *testing.T) *net.TCPListener {
	t.Helper()
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listening on loopback: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })
	return listener
}

// SocketDir creates a short-named temporary directory in /tmp for Unix
// domain sockets. t.TempDir() can exceed the 108-byte sun_path limit
// under some build systems. The directory is removed when the test
// completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "switchboard-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}

// TCPPair returns both ends of a connected loopback TCP connection.
// Unlike net.Pipe, each end supports half-close (CloseWrite) and is
// buffered by the kernel. Both ends are closed when the test
// completes.
func TCPPair(t *testing.T) (server, client *net.TCPConn) {
	t.Helper()
	listener := LoopbackListener(t)

	accepted := make(chan *net.TCPConn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := listener.AcceptTCP()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	client, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("dialing loopback: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("accepting loopback: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })
	return server, client
}

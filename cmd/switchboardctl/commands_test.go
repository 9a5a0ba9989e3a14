// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/connection"
	"github.com/bureau-foundation/switchboard/lib/control"
	"github.com/bureau-foundation/switchboard/lib/handlers"
	"github.com/bureau-foundation/switchboard/lib/netutil"
	"github.com/bureau-foundation/switchboard/lib/process"
	"github.com/bureau-foundation/switchboard/lib/testutil"
	"github.com/bureau-foundation/switchboard/lib/workerpool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startControl runs a manager with a control listener and returns the
// socket path.
func startControl(t *testing.T) string {
	t.Helper()
	pool := workerpool.New(workerpool.Config{Logger: testLogger()})
	t.Cleanup(pool.Close)

	manager := connection.NewManager(connection.ManagerConfig{
		Pool:        pool,
		GracePeriod: 50 * time.Millisecond,
		Logger:      testLogger(),
	})
	t.Cleanup(manager.Teardown)

	server := control.NewServer(testLogger())
	actions := &control.ManagerActions{
		Manager: manager,
		Listen: func(ctx context.Context, network, address string) (connection.Listener, error) {
			return netutil.Listen(ctx, network, address, netutil.ListenOptions{})
		},
		Factory: func(kind string) (connection.HandlerFactory, error) {
			return handlers.Lookup(kind, handlers.Deps{Snapshot: manager.Snapshot})
		},
		Reserved: []string{"control"},
	}
	actions.Register(server)

	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	listener, err := netutil.Listen(context.Background(), "unix", socketPath, netutil.ListenOptions{})
	if err != nil {
		t.Fatalf("listening on control socket: %v", err)
	}
	if err := manager.Connect("control", listener, connection.SharedHandler(server)); err != nil {
		listener.Close()
		t.Fatalf("connecting control listener: %v", err)
	}
	return socketPath
}

// ctl runs switchboardctl against socketPath and returns its output.
func ctl(t *testing.T, socketPath string, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	err := run(append([]string{"--socket", socketPath, "--timeout", "5s"}, args...), &stdout)
	return stdout.String(), err
}

func mustCtl(t *testing.T, socketPath string, args ...string) string {
	t.Helper()
	output, err := ctl(t, socketPath, args...)
	if err != nil {
		t.Fatalf("switchboardctl %s: %v", strings.Join(args, " "), err)
	}
	return output
}

func TestList(t *testing.T) {
	socketPath := startControl(t)

	output := mustCtl(t, socketPath, "list")
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Fatalf("list output has %d lines, want header and one listener:\n%s", len(lines), output)
	}
	if fields := strings.Fields(lines[0]); fields[0] != "NAME" || fields[len(fields)-1] != "SINCE" {
		t.Errorf("header = %q", lines[0])
	}
	if fields := strings.Fields(lines[1]); fields[0] != "control" || fields[1] != "unix" || fields[3] != "running" {
		t.Errorf("control row = %q", lines[1])
	}
}

func TestConnectServeDisconnect(t *testing.T) {
	socketPath := startControl(t)

	output := mustCtl(t, socketPath, "connect", "echo", "127.0.0.1:0", "--handler", "echo")
	if !strings.HasPrefix(output, "echo listening on tcp 127.0.0.1:") {
		t.Fatalf("connect output = %q", output)
	}

	var listeners []connection.ListenerStatus
	if err := json.Unmarshal([]byte(mustCtl(t, socketPath, "--json", "list")), &listeners); err != nil {
		t.Fatalf("decoding list --json: %v", err)
	}
	var address string
	for _, listener := range listeners {
		if listener.Name == "echo" {
			address = listener.Address
		}
	}
	if address == "" {
		t.Fatalf("echo listener missing from %+v", listeners)
	}

	client, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		t.Fatalf("dialing echo listener: %v", err)
	}
	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:realclock // socket deadline
	if _, err := io.ReadFull(client, reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(reply) != "hello" {
		t.Errorf("echo reply = %q", reply)
	}

	output = mustCtl(t, socketPath, "connections", "echo")
	if !strings.Contains(output, client.LocalAddr().String()) || !strings.HasSuffix(output, "1 connections\n") {
		t.Errorf("connections output missing the client:\n%s", output)
	}

	output = mustCtl(t, socketPath, "disconnect", "--forceful", "echo")
	if output != "echo disconnected\n" {
		t.Errorf("disconnect output = %q", output)
	}
	client.Close()

	output = mustCtl(t, socketPath, "list")
	if strings.Contains(output, "echo") {
		t.Errorf("echo still listed after disconnect:\n%s", output)
	}
}

func TestRawOutput(t *testing.T) {
	socketPath := startControl(t)

	output := mustCtl(t, socketPath, "--raw", "actions")
	for _, action := range []string{control.ActionList, control.ActionConnect, control.ActionDisconnect} {
		if !strings.Contains(output, `"`+action+`"`) {
			t.Errorf("raw output missing %q: %s", action, output)
		}
	}
}

func TestActionErrorsPassThrough(t *testing.T) {
	socketPath := startControl(t)

	_, err := ctl(t, socketPath, "disconnect", "missing")
	var actionErr *control.ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("disconnect missing: got %v, want *control.ActionError", err)
	}
	if actionErr.Action != control.ActionDisconnect {
		t.Errorf("ActionError.Action = %q", actionErr.Action)
	}

	_, err = ctl(t, socketPath, "disconnect", "control")
	if !errors.As(err, &actionErr) {
		t.Fatalf("disconnect control: got %v, want *control.ActionError", err)
	}
}

func TestUsageErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "unused.sock")
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"json and raw", []string{"--json", "--raw", "list"}},
		{"list with arguments", []string{"list", "extra"}},
		{"connections without name", []string{"connections"}},
		{"connect missing address", []string{"connect", "name"}},
		{"unknown command flag", []string{"disconnect", "--graceful", "name"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ctl(t, socketPath, tt.args...)
			var coder process.ExitCoder
			if !errors.As(err, &coder) || coder.ExitCode() != 2 {
				t.Fatalf("got %v, want a usage error with exit code 2", err)
			}
		})
	}
}

func TestDaemonUnreachable(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "absent.sock")
	_, err := ctl(t, socketPath, "list")
	if err == nil {
		t.Fatal("list against a missing socket succeeded")
	}
	var coder process.ExitCoder
	if errors.As(err, &coder) {
		t.Errorf("connection failure reported as usage error: %v", err)
	}
}

func TestVersion(t *testing.T) {
	var stdout bytes.Buffer
	if err := run([]string{"--version"}, &stdout); err != nil {
		t.Fatalf("--version: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "switchboardctl ") {
		t.Errorf("--version output = %q", stdout.String())
	}
}

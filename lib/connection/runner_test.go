// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/testutil"
)

// newManualAcceptor builds a started acceptor on a loopback listener
// whose pool runs nothing until the test takes the work.
func newManualAcceptor(t *testing.T, factory HandlerFactory) (*Acceptor, *manualPool, *recordingObserver) {
	t.Helper()
	pool := &manualPool{}
	observer := &recordingObserver{}
	acceptor, err := NewAcceptor(AcceptorConfig{
		Name:     testutil.UniqueID("manual"),
		Listener: testutil.LoopbackListener(t),
		Factory:  factory,
		Pool:     pool,
		Logger:   testLogger(),
		Observer: observer,
	})
	if err != nil {
		t.Fatalf("NewAcceptor: %v", err)
	}
	return acceptor, pool, observer
}

// pipeRunner wires a runner to one end of a net.Pipe and tracks it in
// acceptor, as the accept loop would. Returns the runner and the
// client end.
func pipeRunner(t *testing.T, acceptor *Acceptor) (*runner, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	r := newRunner(acceptor, server)
	acceptor.track(r)
	return r, client
}

func TestRunnerReleasesHandlerWhenHandlingFails(t *testing.T) {
	failure := errors.New("handler exploded")
	factory := &countingFactory{handler: HandlerFunc(func(context.Context, net.Conn) error {
		return failure
	})}
	acceptor, _, observer := newManualAcceptor(t, factory)
	r, client := pipeRunner(t, acceptor)

	if acceptor.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d before run, want 1", acceptor.ActiveCount())
	}
	r.run()

	if factory.created.Load() != 1 || factory.released.Load() != 1 {
		t.Fatalf("created %d, released %d; want 1 and 1", factory.created.Load(), factory.released.Load())
	}
	if acceptor.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d after run, want 0", acceptor.ActiveCount())
	}
	if observer.failedClosed.Load() != 1 {
		t.Fatalf("observer saw %d failed connections, want 1", observer.failedClosed.Load())
	}
	testutil.RequireClosed(t, r.done, testTimeout, "runner done")
	requireClosedByServer(t, client)
}

func TestRunnerClosesConnectionWhenCreationFails(t *testing.T) {
	factory := &countingFactory{createErr: errors.New("no handlers left")}
	acceptor, _, _ := newManualAcceptor(t, factory)
	r, client := pipeRunner(t, acceptor)

	r.run()

	if factory.released.Load() != 0 {
		t.Fatalf("released %d handlers that were never created", factory.released.Load())
	}
	if acceptor.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", acceptor.ActiveCount())
	}
	requireClosedByServer(t, client)
}

func TestRunnerRecoversHandlerPanic(t *testing.T) {
	factory := &countingFactory{handler: HandlerFunc(func(context.Context, net.Conn) error {
		panic("handler bug")
	})}
	acceptor, _, observer := newManualAcceptor(t, factory)
	r, client := pipeRunner(t, acceptor)

	r.run()

	if factory.released.Load() != 1 {
		t.Fatalf("released = %d after panic, want 1", factory.released.Load())
	}
	if observer.failedClosed.Load() != 1 {
		t.Fatalf("panic was not reported as a failed connection")
	}
	requireClosedByServer(t, client)
}

func TestRunnerCancelledBeforeRunSkipsHandler(t *testing.T) {
	factory := &countingFactory{handler: echoHandler}
	acceptor, _, _ := newManualAcceptor(t, factory)
	r, client := pipeRunner(t, acceptor)

	r.interrupt()
	r.run()

	if factory.created.Load() != 0 {
		t.Fatalf("created %d handlers for a runner cancelled before it ran", factory.created.Load())
	}
	if acceptor.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", acceptor.ActiveCount())
	}
	requireClosedByServer(t, client)
}

func TestRunnerInterruptWakesBlockedRead(t *testing.T) {
	entered := make(chan struct{})
	readReturned := make(chan error, 1)
	factory := &countingFactory{handler: HandlerFunc(func(_ context.Context, conn net.Conn) error {
		close(entered)
		// Deliberately ignores ctx: only the expired deadline can
		// wake this read.
		_, err := conn.Read(make([]byte, 1))
		readReturned <- err
		return err
	})}
	acceptor, _, _ := newManualAcceptor(t, factory)
	r, _ := pipeRunner(t, acceptor)

	go r.run()
	testutil.RequireClosed(t, entered, testTimeout, "handler entered")
	r.interrupt()

	err := testutil.RequireReceive(t, readReturned, testTimeout, "blocked read returns")
	if err == nil {
		t.Fatal("read returned without error after interrupt")
	}
	testutil.RequireClosed(t, r.done, testTimeout, "runner done")
}

func TestRunnerAwaitReportsStraggler(t *testing.T) {
	handler := newBlockingHandler(false)
	acceptor, _, _ := newManualAcceptor(t, &countingFactory{handler: handler})
	r, _ := pipeRunner(t, acceptor)

	go r.run()
	testutil.RequireReceive(t, handler.entered, testTimeout, "handler entered")

	expired := make(chan time.Time)
	close(expired)
	r.interrupt()
	if err := r.await(expired); !errors.Is(err, ErrShutdownIncomplete) {
		t.Fatalf("await on a stuck runner = %v, want ErrShutdownIncomplete", err)
	}

	close(handler.release)
	testutil.RequireClosed(t, r.done, testTimeout, "runner done after release")
	if err := r.await(expired); err != nil {
		t.Fatalf("await on a finished runner = %v, want nil", err)
	}
}

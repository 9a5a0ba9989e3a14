// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/workerpool"
)

// testClockEpoch is the fixed start time for fake clocks.
var testClockEpoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// testTimeout is the safety valve for every real-clock wait.
const testTimeout = 5 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testPool(t *testing.T) *workerpool.Pool {
	t.Helper()
	pool := workerpool.New(workerpool.Config{Logger: testLogger()})
	t.Cleanup(pool.Close)
	return pool
}

// echoHandler copies everything it reads back to the peer until the
// peer half-closes or the connection is interrupted.
var echoHandler = HandlerFunc(func(_ context.Context, conn net.Conn) error {
	_, err := io.Copy(conn, conn)
	return err
})

// countingFactory hands out handler and counts create/release calls.
type countingFactory struct {
	handler   Handler
	createErr error

	created  atomic.Int64
	released atomic.Int64
}

func (f *countingFactory) CreateHandler() (Handler, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created.Add(1)
	return f.handler, nil
}

func (f *countingFactory) ReleaseHandler(Handler) {
	f.released.Add(1)
}

// blockingHandler parks every connection until release is closed or
// (when honorContext is set) the connection's context is cancelled.
// entered receives once per connection that reached the handler.
type blockingHandler struct {
	honorContext bool
	release      chan struct{}
	entered      chan struct{}
	cancelled    chan struct{}
	cancelOnce   sync.Once
}

func newBlockingHandler(honorContext bool) *blockingHandler {
	return &blockingHandler{
		honorContext: honorContext,
		release:      make(chan struct{}),
		entered:      make(chan struct{}, 64),
		cancelled:    make(chan struct{}),
	}
}

func (h *blockingHandler) HandleConnection(ctx context.Context, _ net.Conn) error {
	h.entered <- struct{}{}
	if !h.honorContext {
		<-h.release
		return nil
	}
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		h.cancelOnce.Do(func() { close(h.cancelled) })
		return ctx.Err()
	}
}

// manualPool records submitted work without running it, so a test
// controls exactly when each unit executes.
type manualPool struct {
	mu     sync.Mutex
	work   []func()
	reject error
}

func (p *manualPool) Execute(work func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject != nil {
		return p.reject
	}
	p.work = append(p.work, work)
	return nil
}

func (p *manualPool) submitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.work)
}

// take removes and returns the index'th submitted unit.
func (p *manualPool) take(t *testing.T, index int) func() {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if index >= len(p.work) {
		t.Fatalf("manualPool has %d units, want index %d", len(p.work), index)
	}
	return p.work[index]
}

// recordingObserver counts Observer callbacks.
type recordingObserver struct {
	started      atomic.Int64
	stopped      atomic.Int64
	accepted     atomic.Int64
	closed       atomic.Int64
	failedClosed atomic.Int64
	acceptFailed atomic.Int64
}

func (o *recordingObserver) ListenerStarted(string, string) { o.started.Add(1) }
func (o *recordingObserver) ListenerStopped(string)         { o.stopped.Add(1) }
func (o *recordingObserver) ConnectionAccepted(string)      { o.accepted.Add(1) }
func (o *recordingObserver) AcceptFailed(string, error)     { o.acceptFailed.Add(1) }

func (o *recordingObserver) ConnectionClosed(_ string, _ time.Duration, err error) {
	o.closed.Add(1)
	if err != nil {
		o.failedClosed.Add(1)
	}
}

// flakyListener fails the first failures Accept calls with a
// non-timeout error before delegating to the real listener.
type flakyListener struct {
	*net.TCPListener
	failures atomic.Int64
}

var errFlakyAccept = errors.New("accept: too many open files")

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, errFlakyAccept
	}
	return l.TCPListener.Accept()
}

// dial connects to address, failing the test on error. The connection
// is closed at cleanup.
func dial(t *testing.T, address string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", address, testTimeout)
	if err != nil {
		t.Fatalf("dialing %s: %v", address, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// roundTrip writes payload and reads back the same number of bytes.
func roundTrip(t *testing.T, conn net.Conn, payload string) string {
	t.Helper()
	conn.SetDeadline(time.Now().Add(testTimeout)) //nolint:realclock test hang prevention
	if _, err := io.WriteString(conn, payload); err != nil {
		t.Fatalf("writing %q: %v", payload, err)
	}
	buffer := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, buffer); err != nil {
		t.Fatalf("reading echo of %q: %v", payload, err)
	}
	return string(buffer)
}

// requireClosedByServer asserts the server side closed conn: a read
// returns EOF or a reset rather than data or a timeout.
func requireClosedByServer(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout)) //nolint:realclock test hang prevention
	buffer := make([]byte, 1)
	n, err := conn.Read(buffer)
	if err == nil {
		t.Fatalf("read %d bytes from a connection the server should have closed", n)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatalf("server did not close the connection within %v", testTimeout)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestPool(t *testing.T, config Config) *Pool {
	t.Helper()
	if config.Logger == nil {
		config.Logger = testLogger()
	}
	pool := New(config)
	t.Cleanup(pool.Close)
	return pool
}

func TestExecuteRunsConcurrently(t *testing.T) {
	pool := newTestPool(t, Config{})

	const units = 8
	var started sync.WaitGroup
	started.Add(units)
	release := make(chan struct{})
	finished := make(chan struct{}, units)

	for i := 0; i < units; i++ {
		if err := pool.Execute(func() {
			started.Done()
			<-release
			finished <- struct{}{}
		}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	// Every unit must be running at once; with an unbounded pool none
	// of them may be stuck in the queue behind a blocked sibling.
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()
	testutil.RequireClosed(t, allStarted, 5*time.Second, "all units running")

	close(release)
	for i := 0; i < units; i++ {
		testutil.RequireReceive(t, finished, 5*time.Second, "unit finished")
	}
}

func TestIdleWorkerIsReused(t *testing.T) {
	pool := newTestPool(t, Config{})

	done := make(chan struct{})
	if err := pool.Execute(func() { close(done) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	testutil.RequireClosed(t, done, 5*time.Second, "first unit")
	testutil.RequireEventually(t, func() bool { return pool.Stats().Idle == 1 }, 5*time.Second, "worker parks idle")

	second := make(chan struct{})
	if err := pool.Execute(func() { close(second) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	testutil.RequireClosed(t, second, 5*time.Second, "second unit")

	if workers := pool.Stats().Workers; workers != 1 {
		t.Fatalf("Workers = %d after reuse, want 1", workers)
	}
}

func TestMaxWorkersQueuesExcessWork(t *testing.T) {
	pool := newTestPool(t, Config{MaxWorkers: 1})

	release := make(chan struct{})
	if err := pool.Execute(func() { <-release }); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var order []int
	var mu sync.Mutex
	done := make(chan struct{})
	for index := 0; index < 3; index++ {
		index := index
		if err := pool.Execute(func() {
			mu.Lock()
			order = append(order, index)
			if len(order) == 3 {
				close(done)
			}
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	stats := pool.Stats()
	if stats.Workers != 1 || stats.Queued != 3 {
		t.Fatalf("Stats = %+v, want 1 worker and 3 queued", stats)
	}

	close(release)
	testutil.RequireClosed(t, done, 5*time.Second, "queued units")

	mu.Lock()
	defer mu.Unlock()
	for index, got := range order {
		if got != index {
			t.Fatalf("queued units ran in order %v, want FIFO", order)
		}
	}
}

func TestIdleWorkerExpires(t *testing.T) {
	fake := clock.Fake(epoch)
	pool := newTestPool(t, Config{IdleTimeout: 30 * time.Second, Clock: fake})

	done := make(chan struct{})
	if err := pool.Execute(func() { close(done) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	testutil.RequireClosed(t, done, 5*time.Second, "unit")

	fake.WaitForTimers(1)
	fake.Advance(29 * time.Second)
	if workers := pool.Stats().Workers; workers != 1 {
		t.Fatalf("Workers = %d before idle timeout, want 1", workers)
	}

	fake.Advance(time.Second)
	testutil.RequireEventually(t, func() bool { return pool.Stats().Workers == 0 }, 5*time.Second, "idle worker exits")
}

func TestCloseRunsQueuedWorkAndRejectsNew(t *testing.T) {
	pool := New(Config{MaxWorkers: 1, Logger: testLogger()})

	release := make(chan struct{})
	ran := make(chan struct{})
	if err := pool.Execute(func() { <-release }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := pool.Execute(func() { close(ran) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		pool.Close()
		close(closed)
	}()

	testutil.RequireEventually(t, func() bool {
		return errors.Is(pool.Execute(func() {}), ErrPoolClosed)
	}, 5*time.Second, "Execute rejected after Close")

	close(release)
	testutil.RequireClosed(t, ran, 5*time.Second, "queued unit runs during Close")
	testutil.RequireClosed(t, closed, 5*time.Second, "Close returns")

	if stats := pool.Stats(); stats.Workers != 0 {
		t.Fatalf("Workers = %d after Close, want 0", stats.Workers)
	}
}

func TestPanickingUnitDoesNotKillWorker(t *testing.T) {
	pool := newTestPool(t, Config{MaxWorkers: 1})

	if err := pool.Execute(func() { panic("boom") }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	done := make(chan struct{})
	if err := pool.Execute(func() { close(done) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	testutil.RequireClosed(t, done, 5*time.Second, "unit after panic")
}

func TestExecuteRejectsNilWork(t *testing.T) {
	pool := newTestPool(t, Config{})
	if err := pool.Execute(nil); err == nil {
		t.Fatal("Execute(nil) succeeded")
	}
}

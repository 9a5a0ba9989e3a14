// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
)

// ErrPoolClosed is returned by Execute after Close has been called.
var ErrPoolClosed = errors.New("worker pool closed")

// DefaultIdleTimeout is how long a worker waits for new work before
// exiting when Config.IdleTimeout is zero.
const DefaultIdleTimeout = time.Minute

// Config configures a Pool.
type Config struct {
	// MaxWorkers caps the number of concurrently running workers.
	// Zero means unbounded: every unit that finds no idle worker gets
	// a new one.
	MaxWorkers int

	// IdleTimeout is how long an idle worker lingers before exiting.
	IdleTimeout time.Duration

	// Clock drives idle expiry. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives panics recovered from work units. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Stats is a point-in-time view of a Pool.
type Stats struct {
	// Workers is the number of live worker goroutines, busy or idle.
	Workers int
	// Idle is the number of workers parked waiting for work.
	Idle int
	// Queued is the number of units waiting for a worker.
	Queued int
}

// Pool runs units of work on recycled goroutines. The zero value is
// not usable; construct with New.
type Pool struct {
	maxWorkers  int
	idleTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	mu      sync.Mutex
	queue   []func()
	idle    []chan func()
	workers int
	closed  bool

	// running counts live workers so Close can wait for them.
	running sync.WaitGroup
}

// New creates a Pool. No goroutines start until work is submitted.
func New(config Config) *Pool {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Pool{
		maxWorkers:  config.MaxWorkers,
		idleTimeout: config.IdleTimeout,
		clock:       config.Clock,
		logger:      config.Logger,
	}
}

// Execute submits work for asynchronous execution and returns without
// waiting for it to run. Returns ErrPoolClosed after Close.
func (p *Pool) Execute(work func()) error {
	if work == nil {
		return errors.New("workerpool: nil work")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	// Idle workers only exist while the queue is empty, so handing off
	// directly preserves FIFO order.
	if count := len(p.idle); count > 0 {
		handoff := p.idle[count-1]
		p.idle = p.idle[:count-1]
		handoff <- work
		return nil
	}

	if p.maxWorkers <= 0 || p.workers < p.maxWorkers {
		p.workers++
		p.running.Add(1)
		go p.worker(work)
		return nil
	}

	p.queue = append(p.queue, work)
	return nil
}

// Stats returns the current worker and queue counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers: p.workers,
		Idle:    len(p.idle),
		Queued:  len(p.queue),
	}
}

// Close stops accepting work, lets already queued units run, and
// blocks until every worker has exited. Units that never return keep
// Close blocked; callers that host such units should cancel them
// first.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, handoff := range p.idle {
			close(handoff)
		}
		p.idle = nil
	}
	p.mu.Unlock()

	p.running.Wait()
}

// worker runs first and then keeps pulling work until it has been idle
// for idleTimeout or the pool closes.
func (p *Pool) worker(first func()) {
	defer p.running.Done()

	handoff := make(chan func(), 1)
	work := first
	for {
		p.run(work)

		var ok bool
		work, ok = p.next(handoff)
		if !ok {
			return
		}
	}
}

// next returns the worker's next unit, parking it as idle when the
// queue is empty. Returns false when the worker should exit.
func (p *Pool) next(handoff chan func()) (func(), bool) {
	p.mu.Lock()
	if len(p.queue) > 0 {
		work := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()
		return work, true
	}
	if p.closed {
		p.workers--
		p.mu.Unlock()
		return nil, false
	}
	p.idle = append(p.idle, handoff)
	p.mu.Unlock()

	timer := p.clock.NewTimer(p.idleTimeout)
	defer timer.Stop()

	select {
	case work, ok := <-handoff:
		if !ok {
			p.retire()
			return nil, false
		}
		return work, true
	case <-timer.C:
	}

	p.mu.Lock()
	for index, candidate := range p.idle {
		if candidate == handoff {
			p.idle = append(p.idle[:index], p.idle[index+1:]...)
			p.workers--
			p.mu.Unlock()
			return nil, false
		}
	}
	p.mu.Unlock()

	// Execute or Close claimed this worker between the timer firing
	// and the lock above; the handoff channel already holds the
	// outcome.
	work, ok := <-handoff
	if !ok {
		p.retire()
		return nil, false
	}
	return work, true
}

func (p *Pool) retire() {
	p.mu.Lock()
	p.workers--
	p.mu.Unlock()
}

// run executes one unit, containing panics so a misbehaving unit
// cannot take its worker (or the process) down with it.
func (p *Pool) run(work func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error("work unit panicked",
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()
	work()
}

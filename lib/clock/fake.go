// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock whose current time is initial. Time stands
// still until Advance is called.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*fakeTimer

	// changed is broadcast whenever a timer is registered or removed,
	// waking WaitForTimers.
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	channel  chan time.Time
	done     bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock has been
// advanced by at least d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C
}

// NewTimer registers a one-shot timer. A timer with d <= 0 fires
// immediately and is never counted as pending.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
	}
	if d <= 0 {
		timer.done = true
		timer.channel <- c.current
	} else {
		c.pending = append(c.pending, timer)
		c.changed.Broadcast()
	}

	return &Timer{
		C: timer.channel,
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if timer.done {
				return false
			}
			timer.done = true
			c.removeLocked(timer)
			return true
		},
	}
}

// Sleep blocks until the clock has been advanced by at least d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires, in deadline order,
// every timer whose deadline is now due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var due, remaining []*fakeTimer
	for _, timer := range c.pending {
		if timer.deadline.After(now) {
			remaining = append(remaining, timer)
		} else {
			due = append(due, timer)
		}
	}
	c.pending = remaining
	sort.Slice(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, timer := range due {
		timer.done = true
		timer.channel <- now
	}
	if len(due) > 0 {
		c.changed.Broadcast()
	}
	c.mu.Unlock()
}

// WaitForTimers blocks until at least n timers are pending. Call it
// before Advance to be sure the goroutine under test has started
// waiting.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingTimers returns the number of registered timers that have not
// fired or been stopped.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *FakeClock) removeLocked(target *fakeTimer) {
	for index, timer := range c.pending {
		if timer == target {
			c.pending = append(c.pending[:index], c.pending[index+1:]...)
			c.changed.Broadcast()
			return
		}
	}
}

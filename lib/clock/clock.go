// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the parts of the time package that switchboard
// uses. Structs that wait on time carry a Clock field rather than
// calling time.Now, time.After, or time.NewTimer directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that fires once after d. Callers that
	// may stop waiting early should Stop the timer.
	NewTimer(d time.Duration) *Timer

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// Timer is a one-shot timer. Read the event from C.
type Timer struct {
	// C receives the fire time. Buffered with capacity 1.
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns false if the timer had
// already fired or was already stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	if got, want := clock.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockTimerFiresOnlyAtDeadline(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.NewTimer(3 * time.Second)

	clock.Advance(2 * time.Second)
	select {
	case <-timer.C:
		t.Fatal("timer fired before its deadline")
	default:
	}

	clock.Advance(time.Second)
	select {
	case fired := <-timer.C:
		if want := epoch.Add(3 * time.Second); !fired.Equal(want) {
			t.Fatalf("fire time = %v, want %v", fired, want)
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	if clock.PendingTimers() != 0 {
		t.Fatalf("PendingTimers() = %d after firing, want 0", clock.PendingTimers())
	}
}

func TestFakeClockNonPositiveDurationFiresImmediately(t *testing.T) {
	clock := Fake(epoch)
	for _, duration := range []time.Duration{0, -time.Second} {
		select {
		case <-clock.After(duration):
		default:
			t.Fatalf("After(%v) should be ready immediately", duration)
		}
	}
	if clock.PendingTimers() != 0 {
		t.Fatalf("PendingTimers() = %d, want 0", clock.PendingTimers())
	}
}

func TestFakeClockStopRemovesPendingTimer(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.NewTimer(time.Second)
	if clock.PendingTimers() != 1 {
		t.Fatalf("PendingTimers() = %d, want 1", clock.PendingTimers())
	}
	if !timer.Stop() {
		t.Fatal("Stop() on an active timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop() returned true")
	}
	if clock.PendingTimers() != 0 {
		t.Fatalf("PendingTimers() = %d after Stop, want 0", clock.PendingTimers())
	}

	clock.Advance(time.Hour)
	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeClockWaitForTimers(t *testing.T) {
	clock := Fake(epoch)
	woke := make(chan struct{})
	go func() {
		clock.Sleep(time.Minute)
		close(woke)
	}()

	clock.WaitForTimers(1)
	clock.Advance(time.Minute)

	select {
	case <-woke:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestRealClockTimerStop(t *testing.T) {
	timer := Real().NewTimer(time.Hour)
	if !timer.Stop() {
		t.Fatal("Stop() on a fresh real timer returned false")
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by every
// bounded wait in switchboard: acceptor and runner disposal, the
// graceful-shutdown grace period, and worker idle expiry.
//
// Production code receives Real(). Tests receive Fake(), whose time
// moves only when Advance is called, so a test can hold a handler
// hostage past its disposal bound without sleeping:
//
//	fake := clock.Fake(epoch)
//	manager := connection.NewManager(connection.ManagerConfig{Clock: fake, ...})
//	go manager.Disconnect("slow")
//	fake.WaitForTimers(1)         // disposal is now waiting on its bound
//	fake.Advance(2 * time.Second) // the bound elapses
//
// Prefer NewTimer over After for waits that may be abandoned: a
// stopped fake timer stops counting toward WaitForTimers, an
// abandoned After channel does not.
package clock

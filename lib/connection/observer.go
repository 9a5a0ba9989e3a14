// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import "time"

// Observer receives lifecycle events from every acceptor a Manager
// runs. Methods are called synchronously on pool workers and must be
// cheap and safe for concurrent use. lib/connmetrics implements it
// with Prometheus collectors.
type Observer interface {
	// ListenerStarted is called when an acceptor's loop is submitted.
	ListenerStarted(listener, address string)

	// ListenerStopped is called when disposal completes.
	ListenerStopped(listener string)

	// ConnectionAccepted is called once per accepted connection,
	// before it is dispatched.
	ConnectionAccepted(listener string)

	// ConnectionClosed is called after the runner has closed the
	// connection. err is the handler's error, or nil.
	ConnectionClosed(listener string, duration time.Duration, err error)

	// AcceptFailed is called for every accept error other than the
	// periodic timeout.
	AcceptFailed(listener string, err error)
}

type nopObserver struct{}

func (nopObserver) ListenerStarted(string, string)                {}
func (nopObserver) ListenerStopped(string)                        {}
func (nopObserver) ConnectionAccepted(string)                     {}
func (nopObserver) ConnectionClosed(string, time.Duration, error) {}
func (nopObserver) AcceptFailed(string, error)                    {}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"time"

	"golang.org/x/time/rate"
)

// ConnectOption customizes a single Connect call.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	pool           Pool
	acceptTimeout  time.Duration
	gracePeriod    time.Duration
	disposeTimeout time.Duration
	limiter        *rate.Limiter
}

// WithPool runs the listener's accept loop and connections on pool
// instead of the manager's default pool.
func WithPool(pool Pool) ConnectOption {
	return func(options *connectOptions) { options.pool = pool }
}

// WithAcceptTimeout sets how often the accept loop wakes to check for
// cancellation. Zero keeps the manager default.
func WithAcceptTimeout(timeout time.Duration) ConnectOption {
	return func(options *connectOptions) { options.acceptTimeout = timeout }
}

// WithGracePeriod sets how long graceful disconnect waits for
// in-flight handlers. Zero keeps the manager default.
func WithGracePeriod(period time.Duration) ConnectOption {
	return func(options *connectOptions) { options.gracePeriod = period }
}

// WithDisposeTimeout bounds each wait for cancelled work to
// acknowledge. Zero keeps the manager default.
func WithDisposeTimeout(timeout time.Duration) ConnectOption {
	return func(options *connectOptions) { options.disposeTimeout = timeout }
}

// WithAcceptRate limits the listener to accepting perSecond
// connections on average, with bursts of up to burst. A non-positive
// perSecond disables limiting.
func WithAcceptRate(perSecond float64, burst int) ConnectOption {
	return func(options *connectOptions) {
		if perSecond <= 0 {
			options.limiter = nil
			return
		}
		options.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

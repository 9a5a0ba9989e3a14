// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/switchboard/lib/connection"
)

// RecyclingFactory hands out handlers of type H from a sync.Pool and
// returns released handlers to it after resetting them.
type RecyclingFactory[H connection.Handler] struct {
	pool  sync.Pool
	reset func(H)

	created  atomic.Int64
	recycled atomic.Int64
}

// Recycling returns a factory that calls newHandler only when no
// released handler is available. reset, if non-nil, runs on every
// released handler before it goes back into the pool; it must clear
// any per-connection state.
func Recycling[H connection.Handler](newHandler func() H, reset func(H)) *RecyclingFactory[H] {
	factory := &RecyclingFactory[H]{reset: reset}
	factory.pool.New = func() any {
		factory.created.Add(1)
		return newHandler()
	}
	return factory
}

func (f *RecyclingFactory[H]) CreateHandler() (connection.Handler, error) {
	return f.pool.Get().(H), nil
}

// ReleaseHandler resets handler and returns it to the pool. Handlers
// of another type are dropped.
func (f *RecyclingFactory[H]) ReleaseHandler(handler connection.Handler) {
	typed, ok := handler.(H)
	if !ok {
		return
	}
	if f.reset != nil {
		f.reset(typed)
	}
	f.recycled.Add(1)
	f.pool.Put(typed)
}

// Created returns how many handlers the factory has allocated.
func (f *RecyclingFactory[H]) Created() int64 { return f.created.Load() }

// Recycled returns how many handlers have been returned to the pool.
func (f *RecyclingFactory[H]) Recycled() int64 { return f.recycled.Load() }

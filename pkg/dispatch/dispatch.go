// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package dispatch hands classified payloads to content decoders keyed by
// MIME type. Dispatch results are not inspected by the caller.
package dispatch

import (
	"context"
	"sync"
)

// Dispatcher consumes a payload byte range under its content type key.
type Dispatcher interface {
	Dispatch(ctx context.Context, key string, data []byte, offset int)
}

// Func adapts a function to the Dispatcher interface.
type Func func(ctx context.Context, key string, data []byte, offset int)

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, key string, data []byte, offset int) {
	f(ctx, key, data, offset)
}

// Discard ignores every payload.
var Discard Dispatcher = Func(func(context.Context, string, []byte, int) {})

// Table routes payloads to the dispatcher registered for their key, falling
// back to a default for unregistered keys.
type Table struct {
	mu       sync.RWMutex
	routes   map[string]Dispatcher
	fallback Dispatcher
}

// NewTable creates a table with the given fallback. A nil fallback discards.
func NewTable(fallback Dispatcher) *Table {
	if fallback == nil {
		fallback = Discard
	}
	return &Table{
		routes:   make(map[string]Dispatcher),
		fallback: fallback,
	}
}

// Register routes key to d, replacing any previous route.
func (t *Table) Register(key string, d Dispatcher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[key] = d
}

// Lookup returns the dispatcher registered for key.
func (t *Table) Lookup(key string) (Dispatcher, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.routes[key]
	return d, ok
}

// Dispatch implements Dispatcher.
func (t *Table) Dispatch(ctx context.Context, key string, data []byte, offset int) {
	d, ok := t.Lookup(key)
	if !ok {
		d = t.fallback
	}
	d.Dispatch(ctx, key, data, offset)
}

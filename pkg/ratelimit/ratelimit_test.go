// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/inspect"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestTokenBucket(t *testing.T) {
	c := newClock()
	tb := newTokenBucket(3, 2, c.now)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("call %d: expected token", i)
		}
	}
	if tb.Allow() {
		t.Error("Expected empty bucket to refuse")
	}

	c.t = c.t.Add(250 * time.Millisecond)
	if tb.Allow() {
		t.Error("Expected half a token to be insufficient")
	}
	c.t = c.t.Add(250 * time.Millisecond)
	if !tb.Allow() {
		t.Error("Expected fractional refills to add up to a token")
	}

	c.t = c.t.Add(time.Hour)
	if got := tb.Available(); got != 3 {
		t.Errorf("Expected refill capped at capacity, got %d", got)
	}
	if tb.AllowN(4) {
		t.Error("Expected AllowN above capacity to refuse")
	}
}

func TestLimiter(t *testing.T) {
	c := newClock()
	l := NewLimiter(1, 1, 2, time.Minute)
	l.now = c.now

	if !l.Allow("a") || l.Allow("a") {
		t.Error("Expected one token for client a")
	}
	if !l.Allow("b") {
		t.Error("Expected independent bucket for client b")
	}
	if l.Allow("c") {
		t.Error("Expected client beyond maxClients refused")
	}

	c.t = c.t.Add(30 * time.Second)
	l.Allow("b")
	c.t = c.t.Add(45 * time.Second)

	if n := l.Prune(); n != 1 {
		t.Errorf("Expected 1 idle bucket pruned, got %d", n)
	}
	if l.Stats() != 1 {
		t.Errorf("Expected 1 client left, got %d", l.Stats())
	}
	if !l.Allow("c") {
		t.Error("Expected room for client c after pruning")
	}

	l.Remove("b")
	if l.Stats() != 1 {
		t.Errorf("Expected removal, got %d clients", l.Stats())
	}
}

type countingObserver struct {
	sessions, records, disconnects int
}

func (c *countingObserver) OnSession(ctx context.Context, hctx *handler.Context) error {
	c.sessions++
	return nil
}

func (c *countingObserver) OnRecord(ctx context.Context, hctx *handler.Context, rec *inspect.Record) error {
	c.records++
	return nil
}

func (c *countingObserver) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	c.disconnects++
	return nil
}

func TestObserver(t *testing.T) {
	next := &countingObserver{}
	l := NewLimiter(2, 1, 0, 0)
	l.now = newClock().now
	obs := NewObserver(l, next)

	ctx := context.Background()
	hctx := &handler.Context{RemoteAddr: "10.0.0.1:40000"}

	obs.OnSession(ctx, hctx)
	for i := 0; i < 5; i++ {
		obs.OnRecord(ctx, hctx, &inspect.Record{})
	}
	obs.OnDisconnect(ctx, hctx)

	if next.sessions != 1 || next.disconnects != 1 {
		t.Errorf("Expected session events forwarded, got %+v", next)
	}
	if next.records != 2 || obs.Limited() != 3 {
		t.Errorf("Expected 2 forwarded and 3 limited, got %d and %d", next.records, obs.Limited())
	}
	if l.Stats() != 0 {
		t.Error("Expected the client's bucket dropped on disconnect")
	}
}

func TestLimiter_Run(t *testing.T) {
	l := NewLimiter(1, 1, 0, 20*time.Millisecond)
	l.Allow("a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for l.Stats() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.Stats() != 0 {
		t.Error("Expected idle bucket pruned by Run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Run did not return after cancel")
	}
}

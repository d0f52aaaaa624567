// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit bounds how many records per client reach the export
// observers, using one token bucket per client.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/inspect"
)

var (
	// ErrRateLimitExceeded is returned when rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// TokenBucket implements the token bucket algorithm for rate limiting.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket holding capacity tokens and gaining
// refillRate tokens per second.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(refillRate),
		lastRefill: now(),
		now:        now,
	}
}

// Allow takes one token if available.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN takes n tokens if available.
func (tb *TokenBucket) AllowN(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}
	return false
}

// refill must be called with mu held. Fractional tokens carry over.
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Available returns the number of whole tokens available.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return int64(tb.tokens)
}

type entry struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// Limiter keeps one bucket per client. Buckets unused for idleTimeout are
// evicted by Prune.
type Limiter struct {
	mu          sync.Mutex
	limiters    map[string]*entry
	capacity    int64
	refillRate  int64
	maxClients  int
	idleTimeout time.Duration
	now         func() time.Time
}

// NewLimiter creates a per-client limiter. Clients beyond maxClients are
// refused until Prune frees room; 0 means 10000.
func NewLimiter(capacity, refillRate int64, maxClients int, idleTimeout time.Duration) *Limiter {
	if maxClients == 0 {
		maxClients = 10000
	}
	if idleTimeout == 0 {
		idleTimeout = 5 * time.Minute
	}
	return &Limiter{
		limiters:    make(map[string]*entry),
		capacity:    capacity,
		refillRate:  refillRate,
		maxClients:  maxClients,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Allow takes one token from the client's bucket.
func (l *Limiter) Allow(clientID string) bool {
	return l.AllowN(clientID, 1)
}

// AllowN takes n tokens from the client's bucket.
func (l *Limiter) AllowN(clientID string, n int64) bool {
	l.mu.Lock()
	e, ok := l.limiters[clientID]
	if !ok {
		if len(l.limiters) >= l.maxClients {
			l.mu.Unlock()
			return false
		}
		e = &entry{bucket: newTokenBucket(l.capacity, l.refillRate, l.now)}
		l.limiters[clientID] = e
	}
	e.lastSeen = l.now()
	l.mu.Unlock()

	return e.bucket.AllowN(n)
}

// Remove removes a client's bucket.
func (l *Limiter) Remove(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, clientID)
}

// Prune evicts buckets idle longer than the idle timeout and returns how many.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	now := l.now()
	for id, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idleTimeout {
			delete(l.limiters, id)
			n++
		}
	}
	return n
}

// Run prunes idle buckets periodically until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

// Stats returns the number of tracked clients.
func (l *Limiter) Stats() (clients int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Observer forwards records to next while the sending client is within its
// rate. Records over the rate are counted and skipped; session events always
// pass.
type Observer struct {
	next    handler.Observer
	limiter *Limiter
	limited atomic.Uint64
}

var _ handler.Observer = (*Observer)(nil)

// NewObserver wraps next with limiter keyed by the client address.
func NewObserver(limiter *Limiter, next handler.Observer) *Observer {
	return &Observer{next: next, limiter: limiter}
}

// OnSession implements handler.Observer.
func (o *Observer) OnSession(ctx context.Context, hctx *handler.Context) error {
	return o.next.OnSession(ctx, hctx)
}

// OnRecord forwards rec unless the client exceeded its rate.
func (o *Observer) OnRecord(ctx context.Context, hctx *handler.Context, rec *inspect.Record) error {
	if !o.limiter.Allow(hctx.RemoteAddr) {
		o.limited.Add(1)
		return nil
	}
	return o.next.OnRecord(ctx, hctx, rec)
}

// OnDisconnect drops the client's bucket and forwards the event.
func (o *Observer) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	o.limiter.Remove(hctx.RemoteAddr)
	return o.next.OnDisconnect(ctx, hctx)
}

// Limited returns the number of records skipped.
func (o *Observer) Limited() uint64 {
	return o.limited.Load()
}

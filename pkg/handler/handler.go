// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"

	"github.com/absmach/coapscope/pkg/inspect"
)

// Context contains session metadata shared by every callback of one
// client session.
type Context struct {
	// SessionID is a unique identifier for this session
	SessionID string

	// RemoteAddr is the client's network address
	RemoteAddr string

	// BackendAddr is the resolved address of the CoAP server being proxied
	BackendAddr string

	// Protocol indicates the transport being observed (coap)
	Protocol string
}

// Observer receives the decoded traffic of a session.
// Errors returned by an Observer are logged by the caller and never stop
// datagrams from being forwarded.
type Observer interface {
	// OnSession is called once when a new client session is created.
	OnSession(ctx context.Context, hctx *Context) error

	// OnRecord is called for every datagram in either direction, after it
	// was decoded and tracked. The record is also delivered for messages
	// that failed to decode; its Err field is set then.
	OnRecord(ctx context.Context, hctx *Context, rec *inspect.Record) error

	// OnDisconnect is called when a session is closed (idle timeout,
	// backend failure or shutdown).
	OnDisconnect(ctx context.Context, hctx *Context) error
}

// NoopObserver ignores every event.
type NoopObserver struct{}

var _ Observer = (*NoopObserver)(nil)

func (o *NoopObserver) OnSession(ctx context.Context, hctx *Context) error {
	return nil
}

func (o *NoopObserver) OnRecord(ctx context.Context, hctx *Context, rec *inspect.Record) error {
	return nil
}

func (o *NoopObserver) OnDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}

// Multi fans every event out to all observers in order. Every observer is
// called even if an earlier one fails; the errors are joined.
type Multi []Observer

var _ Observer = Multi(nil)

func (m Multi) OnSession(ctx context.Context, hctx *Context) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.OnSession(ctx, hctx))
	}
	return errors.Join(errs...)
}

func (m Multi) OnRecord(ctx context.Context, hctx *Context, rec *inspect.Record) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.OnRecord(ctx, hctx, rec))
	}
	return errors.Join(errs...)
}

func (m Multi) OnDisconnect(ctx context.Context, hctx *Context) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.OnDisconnect(ctx, hctx))
	}
	return errors.Join(errs...)
}

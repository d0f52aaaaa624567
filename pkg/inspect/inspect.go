// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package inspect runs one captured datagram through the decode pipeline:
// header and option decoding, transaction tracking, URI inheritance, payload
// classification and payload dispatch.
package inspect

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/absmach/coapscope/pkg/coap"
	"github.com/absmach/coapscope/pkg/diag"
	"github.com/absmach/coapscope/pkg/dispatch"
	"github.com/absmach/coapscope/pkg/tracker"
)

// Frame is one datagram as supplied by the host.
type Frame struct {
	// Number identifies the frame within the capture session, starting at 1.
	// Replaying a frame must reuse its number.
	Number uint64
	Time   time.Time
	Src    netip.AddrPort
	Dst    netip.AddrPort
	Data   []byte

	// Length is the message length declared by the transport; 0 means len(Data).
	Length int
}

// Record is the outcome of inspecting one frame.
type Record struct {
	Frame    Frame
	Message  *coap.Message // nil when the fixed header was truncated
	Payload  coap.Payload
	Exchange tracker.ExchangeID
	Tracking tracker.Result

	// Err is the fatal decode error, if any. Tracking and payload
	// classification are skipped when it is set.
	Err error
}

// Inspector decodes frames against a shared exchange store.
type Inspector struct {
	store      *tracker.Store
	dispatcher dispatch.Dispatcher
	sink       diag.Sink
	scheme     string
	logger     *slog.Logger
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithDispatcher sets the payload dispatcher. Default discards.
func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(in *Inspector) {
		if d != nil {
			in.dispatcher = d
		}
	}
}

// WithSink sets the diagnostics sink. Default discards.
func WithSink(s diag.Sink) Option {
	return func(in *Inspector) {
		if s != nil {
			in.sink = s
		}
	}
}

// WithScheme sets the scheme used when rebuilding request URIs.
func WithScheme(scheme string) Option {
	return func(in *Inspector) {
		in.scheme = scheme
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Inspector) {
		if l != nil {
			in.logger = l
		}
	}
}

// New creates an Inspector tracking transactions in store. A nil store
// gets a fresh one.
func New(store *tracker.Store, opts ...Option) *Inspector {
	if store == nil {
		store = tracker.NewStore()
	}
	in := &Inspector{
		store:      store,
		dispatcher: dispatch.Discard,
		sink:       diag.Discard,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Store returns the exchange store the inspector tracks into.
func (in *Inspector) Store() *tracker.Store {
	return in.store
}

// Inspect decodes f and updates the exchange store. The record is always
// returned, carrying whatever was decoded before a fatal error.
func (in *Inspector) Inspect(ctx context.Context, f Frame) (*Record, error) {
	rec := &Record{Frame: f}

	msg, err := coap.Decode(f.Data,
		coap.WithSink(in.sink),
		coap.WithScheme(in.scheme),
		coap.WithLength(f.Length))
	rec.Message = msg
	if err != nil {
		rec.Err = err
		in.logger.Debug("dropping malformed CoAP message",
			slog.Uint64("frame", f.Number),
			slog.String("src", f.Src.String()),
			slog.String("error", err.Error()))
		return rec, err
	}

	rec.Exchange = tracker.ExchangeFor(f.Src, f.Dst, msg.Code.IsRequest())
	rec.Tracking = in.store.Track(rec.Exchange, tracker.Observation{
		Frame: f.Number,
		Time:  f.Time,
		Code:  msg.Code,
		Token: msg.Token,
		URI:   msg.URI.String(),
	})
	if rec.Tracking.Role == tracker.RoleResponse && rec.Tracking.URI != "" {
		msg.InheritURI(rec.Tracking.URI)
	}

	rec.Payload = coap.Classify(msg)
	if rec.Payload.Kind != coap.PayloadNone {
		in.dispatcher.Dispatch(ctx, rec.Payload.DispatchKey, rec.Payload.Data, rec.Payload.Offset)
	}
	return rec, nil
}

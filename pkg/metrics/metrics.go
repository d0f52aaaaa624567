// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for coapscope.
package metrics

import (
	"context"
	"errors"

	cerrors "github.com/absmach/coapscope/pkg/errors"
	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/inspect"
	"github.com/absmach/coapscope/pkg/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for coapscope.
type Metrics struct {
	// Session metrics
	ActiveSessions *prometheus.GaugeVec
	TotalSessions  *prometheus.CounterVec

	// Decode metrics
	Messages     *prometheus.CounterVec
	DecodeErrors *prometheus.CounterVec
	Diagnostics  *prometheus.CounterVec
	Options      *prometheus.CounterVec
	Payloads     *prometheus.CounterVec

	// Transaction metrics
	Transactions *prometheus.CounterVec
	ResponseTime prometheus.Histogram
}

var _ handler.Observer = (*Metrics)(nil)

// New registers every metric with reg. A nil reg uses the default registerer.
// When store is set, the number of tracked exchanges is exported as a gauge.
func New(reg prometheus.Registerer, namespace string, store *tracker.Store) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "coapscope"
	}
	f := promauto.With(reg)

	m := &Metrics{
		ActiveSessions: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of currently relayed client sessions",
			},
			[]string{"protocol"},
		),
		TotalSessions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of client sessions opened",
			},
			[]string{"protocol"},
		),
		Messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coap_messages_total",
				Help:      "Total number of decoded CoAP messages",
			},
			[]string{"type", "code"},
		),
		DecodeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Total number of messages that failed to decode",
			},
			[]string{"error_type"},
		),
		Diagnostics: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "diagnostics_total",
				Help:      "Total number of non-fatal decode diagnostics",
			},
			[]string{"kind", "severity"},
		),
		Options: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coap_options_total",
				Help:      "Total number of decoded CoAP options",
			},
			[]string{"option"},
		),
		Payloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coap_payloads_total",
				Help:      "Total number of classified payloads",
			},
			[]string{"kind"},
		),
		Transactions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of tracked request/response transactions",
			},
			[]string{"event"},
		),
		ResponseTime: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_time_seconds",
				Help:      "Time between a request and its first matching response",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5, 10, 30},
			},
		),
	}

	if store != nil {
		f.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_exchanges",
				Help:      "Number of client/server exchanges in the store",
			},
			func() float64 { return float64(store.Len()) },
		)
	}

	return m
}

// OnSession counts an opened session.
func (m *Metrics) OnSession(ctx context.Context, hctx *handler.Context) error {
	m.ActiveSessions.WithLabelValues(hctx.Protocol).Inc()
	m.TotalSessions.WithLabelValues(hctx.Protocol).Inc()
	return nil
}

// OnRecord counts what was decoded from one datagram. Replayed frames are
// only counted on their first pass.
func (m *Metrics) OnRecord(ctx context.Context, hctx *handler.Context, rec *inspect.Record) error {
	if rec.Err != nil {
		m.DecodeErrors.WithLabelValues(ErrorType(rec.Err)).Inc()
	}
	if rec.Message == nil {
		return nil
	}
	if rec.Err == nil && !rec.Tracking.FirstPass {
		return nil
	}

	msg := rec.Message
	m.Messages.WithLabelValues(msg.Type.Short(), msg.Code.String()).Inc()
	for _, d := range msg.Diagnostics {
		m.Diagnostics.WithLabelValues(d.Kind.String(), d.Severity.String()).Inc()
	}
	for _, o := range msg.Options {
		m.Options.WithLabelValues(o.Number.Name()).Inc()
	}
	if rec.Err != nil {
		return nil
	}

	m.Payloads.WithLabelValues(rec.Payload.Kind.String()).Inc()
	if rec.Tracking.Created {
		m.Transactions.WithLabelValues("created").Inc()
	}
	if rec.Tracking.Role == tracker.RoleResponse && rec.Tracking.Matched {
		m.Transactions.WithLabelValues("matched").Inc()
		m.ResponseTime.Observe(rec.Tracking.Elapsed.Seconds())
	}
	return nil
}

// OnDisconnect counts a closed session.
func (m *Metrics) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	m.ActiveSessions.WithLabelValues(hctx.Protocol).Dec()
	return nil
}

// ErrorType maps a fatal decode error to its metric label.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, cerrors.ErrTruncated):
		return "truncated"
	case errors.Is(err, cerrors.ErrReservedDelta):
		return "reserved_delta"
	case errors.Is(err, cerrors.ErrReservedLength):
		return "reserved_length"
	case errors.Is(err, cerrors.ErrOptionOverflow):
		return "option_overflow"
	default:
		return "other"
	}
}

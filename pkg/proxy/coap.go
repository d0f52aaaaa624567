// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/absmach/coapscope/pkg/diag"
	"github.com/absmach/coapscope/pkg/dispatch"
	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/inspect"
	"github.com/absmach/coapscope/pkg/parser/coap"
	"github.com/absmach/coapscope/pkg/server/udp"
	"github.com/absmach/coapscope/pkg/tracker"
)

// CoAPConfig holds configuration for the inspecting CoAP proxy.
type CoAPConfig struct {
	Host            string
	Port            string
	TargetHost      string
	TargetPort      string
	SessionTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxSessions     int
	WorkerPoolSize  int
	BufferSize      int

	// Scheme is written before Uri-Host when rebuilding request URIs.
	Scheme string

	// Store holds the tracked exchanges. nil creates a fresh store.
	Store *tracker.Store

	// Dispatcher receives classified payloads. nil discards them.
	Dispatcher dispatch.Dispatcher

	// Diagnostics receives decode diagnostics. nil logs them through Logger.
	Diagnostics diag.Sink

	Logger *slog.Logger
}

// CoAPProxy coordinates the UDP relay, the CoAP parser and the inspector.
type CoAPProxy struct {
	server    *udp.Server
	parser    *coap.Parser
	inspector *inspect.Inspector
}

// NewCoAP creates a CoAP proxy relaying to the target and reporting every
// inspected datagram to obs.
func NewCoAP(cfg CoAPConfig, obs handler.Observer) (*CoAPProxy, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	sink := cfg.Diagnostics
	if sink == nil {
		sink = diag.NewLogSink(cfg.Logger.With(slog.String("component", "decoder")))
	}

	in := inspect.New(cfg.Store,
		inspect.WithDispatcher(cfg.Dispatcher),
		inspect.WithSink(sink),
		inspect.WithScheme(cfg.Scheme),
		inspect.WithLogger(cfg.Logger))
	p := coap.New(in, cfg.Logger)

	serverCfg := udp.Config{
		Address:         net.JoinHostPort(cfg.Host, cfg.Port),
		TargetAddress:   net.JoinHostPort(cfg.TargetHost, cfg.TargetPort),
		SessionTimeout:  cfg.SessionTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxSessions:     cfg.MaxSessions,
		WorkerPoolSize:  cfg.WorkerPoolSize,
		BufferSize:      cfg.BufferSize,
		Logger:          cfg.Logger,
	}

	return &CoAPProxy{
		server:    udp.New(serverCfg, p, obs),
		parser:    p,
		inspector: in,
	}, nil
}

// Listen starts the CoAP proxy server and blocks until context is cancelled.
func (p *CoAPProxy) Listen(ctx context.Context) error {
	return p.server.Listen(ctx)
}

// Ready is closed once the relay is bound.
func (p *CoAPProxy) Ready() <-chan struct{} {
	return p.server.Ready()
}

// Addr returns the bound relay address.
func (p *CoAPProxy) Addr() net.Addr {
	return p.server.Addr()
}

// Store returns the exchange store shared by every session of the proxy.
func (p *CoAPProxy) Store() *tracker.Store {
	return p.inspector.Store()
}

// Server returns the underlying UDP relay.
func (p *CoAPProxy) Server() *udp.Server {
	return p.server
}

// Frames returns the number of datagrams inspected so far.
func (p *CoAPProxy) Frames() uint64 {
	return p.parser.Frames()
}

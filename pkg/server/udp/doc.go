// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package udp implements the CoAP relay: a UDP server that sits between
// clients and one CoAP server and hands every datagram to a parser before
// forwarding it.
//
// # Architecture
//
//	┌─────────┐         ┌─────────┐         ┌─────────┐
//	│ Client  │ ←─UDP─→ │  Server │ ←─UDP─→ │ Backend │
//	└─────────┘         └─────────┘         └─────────┘
//	                         │
//	                         ↓
//	                    ┌─────────┐
//	                    │ Parser  │ → inspect.Inspector → Observer
//	                    └─────────┘
//
// # Sessions
//
// A session is keyed by the client's IP:Port and owns a connected socket to
// the backend. The first datagram of a client creates the session, calls
// Observer.OnSession and starts the downstream reader for it. A session that
// sees no datagram in either direction for SessionTimeout is closed, and
// Observer.OnDisconnect is called exactly once per session.
//
// # Datagram Flow
//
//	Upstream:   listener → worker pool → Parser.Parse(Upstream) → backend socket
//	Downstream: backend socket → Parser.Parse(Downstream) → listener.WriteToUDP
//
// Upstream datagrams are queued for a fixed pool of workers. When the queue
// is full the datagram is dropped and counted; see Dropped. Parser errors are
// logged and never close the session.
//
// # Graceful Shutdown
//
// When the context is cancelled the listener is closed, queued datagrams are
// finished by the workers and sessions are drained. Sessions still open after
// ShutdownTimeout are force-closed and Listen returns ErrShutdownTimeout.
//
// # Example
//
//	store := tracker.NewStore()
//	p := coap.New(inspect.New(store), logger)
//
//	server := udp.New(udp.Config{
//		Address:       ":5683",
//		TargetAddress: "backend:5683",
//		Logger:        logger,
//	}, p, observer)
//	if err := server.Listen(ctx); err != nil {
//		logger.Error("relay stopped", slog.String("error", err.Error()))
//	}
package udp

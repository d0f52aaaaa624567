// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler links the inspecting parser to whatever consumes decoded
// traffic: metrics, the live tap, the MQTT exporter or a logger.
//
// # Data Flow
//
//	Client → Server → Parser (decode, track) → Observer.OnRecord → Backend
//	Backend → Server → Parser (decode, track) → Observer.OnRecord → Client
//
// # Observer Methods
//
//   - OnSession: a client sent its first datagram
//   - OnRecord: a datagram was decoded, in either direction
//   - OnDisconnect: the session was closed
//
// Observers are notified after inspection and before forwarding. They cannot
// alter or drop traffic.
//
// # Example
//
//	type countingObserver struct {
//		handler.NoopObserver
//		errors atomic.Int64
//	}
//
//	func (o *countingObserver) OnRecord(ctx context.Context, hctx *handler.Context, rec *inspect.Record) error {
//		if rec.Err != nil {
//			o.errors.Add(1)
//		}
//		return nil
//	}
package handler

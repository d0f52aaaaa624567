// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser defines the interface between the datagram server and the
// protocol inspector.
//
// # Parser Interface
//
//	Parse(ctx context.Context, r io.Reader, w io.Writer, dir Direction, obs handler.Observer, hctx *handler.Context) error
//
// The server calls Parse for each datagram in both directions:
//   - Upstream (Client → Backend): requests, empty ACKs and resets sent by the client
//   - Downstream (Backend → Client): responses and separate notifications
//
// Parsers never change or hold back traffic. A message the inspector cannot
// decode is still forwarded as read.
//
// # Protocol Parsers
//
//   - parser/coap: CoAP decoder with transaction tracking
package parser

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"context"
	"io"

	"github.com/absmach/coapscope/pkg/handler"
)

// Direction indicates the direction of packet flow.
type Direction int

const (
	// Upstream represents packets flowing from client to backend server.
	Upstream Direction = iota

	// Downstream represents packets flowing from backend server to client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Parser inspects one datagram and forwards it.
//
// Parse is called once per datagram. It should:
//   - Read exactly one message from r
//   - Decode it and notify the observer
//   - Write the original bytes to w, even if decoding failed
//   - Return an error only when reading or forwarding failed
type Parser interface {
	// Parse reads one message from r, inspects it, and writes it to w.
	// The direction tells which endpoint in hctx sent the message.
	Parse(ctx context.Context, r io.Reader, w io.Writer, dir Direction, obs handler.Observer, hctx *handler.Context) error
}

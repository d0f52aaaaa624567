// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/inspect"
	"github.com/absmach/coapscope/pkg/parser"
)

// Parser implements the parser.Parser interface for CoAP.
// It numbers datagrams in arrival order, runs them through the inspector
// and forwards the original bytes.
type Parser struct {
	inspector *inspect.Inspector
	logger    *slog.Logger
	frames    atomic.Uint64
	now       func() time.Time
}

var _ parser.Parser = (*Parser)(nil)

// New creates a parser decoding with in. A nil inspector gets a default one
// with its own exchange store.
func New(in *inspect.Inspector, logger *slog.Logger) *Parser {
	if in == nil {
		in = inspect.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		inspector: in,
		logger:    logger,
		now:       time.Now,
	}
}

// Frames returns the number of datagrams seen so far.
func (p *Parser) Frames() uint64 {
	return p.frames.Load()
}

// Parse reads one CoAP message from r, inspects it, and writes it to w.
// CoAP is a datagram protocol, so each Parse call handles one complete message.
func (p *Parser) Parse(ctx context.Context, r io.Reader, w io.Writer, dir parser.Direction, obs handler.Observer, hctx *handler.Context) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read CoAP message: %w", err)
	}

	hctx.Protocol = "coap"
	src, dst := endpoints(dir, hctx)
	frame := inspect.Frame{
		Number: p.frames.Add(1),
		Time:   p.now(),
		Src:    src,
		Dst:    dst,
		Data:   data,
	}

	rec, err := p.inspector.Inspect(ctx, frame)
	if err != nil {
		p.logger.Debug("failed to decode CoAP message",
			slog.String("session", hctx.SessionID),
			slog.String("direction", dir.String()),
			slog.String("error", err.Error()))
	}
	if obs != nil {
		if err := obs.OnRecord(ctx, hctx, rec); err != nil {
			p.logger.Warn("observer error",
				slog.String("session", hctx.SessionID),
				slog.String("error", err.Error()))
		}
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write CoAP message: %w", err)
	}

	return nil
}

// endpoints returns the sender and receiver of a datagram travelling in dir.
// Addresses that do not parse are left zero.
func endpoints(dir parser.Direction, hctx *handler.Context) (src, dst netip.AddrPort) {
	client := parseAddrPort(hctx.RemoteAddr)
	backend := parseAddrPort(hctx.BackendAddr)
	if dir == parser.Downstream {
		return backend, client
	}
	return client, backend
}

func parseAddrPort(s string) netip.AddrPort {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tracker

import "net/netip"

// ExchangeID identifies a logical request/response exchange.
type ExchangeID struct {
	Client netip.AddrPort
	Server netip.Addr
}

// ExchangeFor derives the exchange of a datagram sent from src to dst.
// Requests travel client to server, responses the other way.
func ExchangeFor(src, dst netip.AddrPort, isRequest bool) ExchangeID {
	if isRequest {
		return ExchangeID{Client: src, Server: dst.Addr()}
	}
	return ExchangeID{Client: dst, Server: src.Addr()}
}

// String returns a string representation of the exchange.
func (id ExchangeID) String() string {
	return id.Client.String() + " <-> " + id.Server.String()
}

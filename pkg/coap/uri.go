// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"strconv"
	"strings"
)

// URIBuilder rebuilds the request URI from Uri-Host, Uri-Port, Uri-Path and
// Uri-Query options in the order they appear. It lives for one decode call.
type URIBuilder struct {
	scheme string
	path   strings.Builder
	query  strings.Builder
}

// NewURIBuilder returns a builder writing scheme:// before the host.
func NewURIBuilder(scheme string) *URIBuilder {
	if scheme == "" {
		scheme = "coap"
	}
	return &URIBuilder{scheme: scheme}
}

// AddHost appends the authority. Hosts containing ':' are taken for IPv6
// literals and bracketed.
func (b *URIBuilder) AddHost(host string) {
	b.path.WriteString(b.scheme)
	b.path.WriteString("://")
	if strings.Contains(host, ":") {
		b.path.WriteByte('[')
		b.path.WriteString(host)
		b.path.WriteByte(']')
		return
	}
	b.path.WriteString(host)
}

// AddPort appends ":port".
func (b *URIBuilder) AddPort(port uint32) {
	b.path.WriteByte(':')
	b.path.WriteString(strconv.FormatUint(uint64(port), 10))
}

// AddPathSegment appends "/segment".
func (b *URIBuilder) AddPathSegment(seg string) {
	b.path.WriteByte('/')
	b.path.WriteString(seg)
}

// AddQuerySegment appends "?segment" for the first segment and "&segment" after.
func (b *URIBuilder) AddQuerySegment(seg string) {
	if b.query.Len() == 0 {
		b.query.WriteByte('?')
	} else {
		b.query.WriteByte('&')
	}
	b.query.WriteString(seg)
}

// Path returns the authority and path part.
func (b *URIBuilder) Path() string { return b.path.String() }

// Query returns the query part including the leading '?'.
func (b *URIBuilder) Query() string { return b.query.String() }

// String returns the full reconstructed URI.
func (b *URIBuilder) String() string { return b.path.String() + b.query.String() }

// Empty reports whether no URI component has been seen.
func (b *URIBuilder) Empty() bool { return b.path.Len() == 0 && b.query.Len() == 0 }

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"fmt"
	"strings"

	"github.com/absmach/coapscope/pkg/diag"
)

// Message is one decoded datagram. It is built fresh by every Decode call.
type Message struct {
	Header
	Token   Token
	Options []Option

	// URI is rebuilt from the Uri-* options in encounter order.
	URI *URIBuilder

	// ContentFormat is valid when HasContentFormat is set. A zero-length
	// option yields ID 0 with HasContentFormat set.
	ContentFormat    ContentFormatValue
	HasContentFormat bool

	// Secured is set when an Object-Security option was seen.
	Secured bool

	// Block is the last Block1/Block2 option seen, nil if none.
	Block       *Block
	BlockOption OptionNumber

	// EndMarker is set when the 0xFF marker terminated the options.
	EndMarker bool

	// Length is the total message length supplied by the transport.
	Length int

	// PayloadOffset is where the payload starts; Payload is empty when
	// decoding stopped on a fatal error.
	PayloadOffset int
	Payload       []byte

	// Diagnostics holds every condition reported while decoding, in order.
	Diagnostics []diag.Diagnostic

	inheritedURI string
}

type decodeConfig struct {
	sink   diag.Sink
	scheme string
	length int
}

// DecodeOption configures Decode.
type DecodeOption func(*decodeConfig)

// WithSink forwards every diagnostic to s as it is reported.
func WithSink(s diag.Sink) DecodeOption {
	return func(c *decodeConfig) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithScheme sets the scheme written before a Uri-Host. Default "coap".
func WithScheme(scheme string) DecodeOption {
	return func(c *decodeConfig) {
		c.scheme = scheme
	}
}

// WithLength sets the total message length declared by the transport.
// Lengths beyond the buffer are clamped to it.
func WithLength(n int) DecodeOption {
	return func(c *decodeConfig) {
		c.length = n
	}
}

// Decode parses one message. The returned message is nil only when the fixed
// header could not be read. On any other fatal error the message carries the
// header, token and every option decoded before the failure, and no payload.
func Decode(data []byte, opts ...DecodeOption) (*Message, error) {
	cfg := decodeConfig{sink: diag.Discard, length: len(data)}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.length <= 0 || cfg.length > len(data) {
		cfg.length = len(data)
	}
	data = data[:cfg.length]

	h, tok, off, err := DecodeHeader(data)
	if off == 0 && err != nil {
		cfg.sink.Report(truncated(0, "message shorter than the fixed header"))
		return nil, err
	}

	msg := &Message{
		Header: h,
		Token:  tok,
		URI:    NewURIBuilder(cfg.scheme),
		Length: cfg.length,
	}
	if err != nil {
		dg := truncated(off, "token runs past the message end")
		msg.Diagnostics = append(msg.Diagnostics, dg)
		cfg.sink.Report(dg)
		return msg, err
	}

	d := decoder{data: data, end: cfg.length, msg: msg, sink: cfg.sink}
	off, err = d.decodeOptions(off)
	msg.PayloadOffset = off
	if err != nil {
		return msg, err
	}
	if off < cfg.length {
		msg.Payload = make([]byte, cfg.length-off)
		copy(msg.Payload, data[off:])
	}
	return msg, nil
}

func truncated(off int, text string) diag.Diagnostic {
	return diag.Diagnostic{Severity: diag.Error, Kind: diag.KindMalformed, Offset: off, Message: text}
}

// InheritURI replaces the displayed URI, used when a response takes the URI
// of its matching request.
func (m *Message) InheritURI(uri string) {
	m.inheritedURI = uri
}

// URIString returns the inherited URI if one was set, else the URI rebuilt
// from this message's own options.
func (m *Message) URIString() string {
	if m.inheritedURI != "" {
		return m.inheritedURI
	}
	return m.URI.String()
}

// Option returns the first option with the given number.
func (m *Message) Option(n OptionNumber) (Option, bool) {
	for _, o := range m.Options {
		if o.Number == n {
			return o, true
		}
	}
	return Option{}, false
}

// Summary renders the one-line description of the message, e.g.
// "CON, MID:4660, GET, TKN:ab, coap://example.org/a?x=1".
func (m *Message) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s, MID:%d, %s", m.Type.Short(), m.MessageID, m.Code)
	if len(m.Token) > 0 {
		fmt.Fprintf(&sb, ", TKN:%s", m.Token)
	}
	if m.Block != nil {
		end := "End of "
		if m.Block.More {
			end = ""
		}
		fmt.Fprintf(&sb, ", %sBlock #%d", end, m.Block.Num)
	}
	if uri := m.URIString(); uri != "" {
		sb.WriteString(", ")
		sb.WriteString(uri)
	}
	return sb.String()
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import "fmt"

// PayloadKind says how the payload bytes should be presented.
type PayloadKind int

const (
	// PayloadNone means the message carries no payload.
	PayloadNone PayloadKind = iota

	// PayloadOpaque is an octet stream with no declared format.
	PayloadOpaque

	// PayloadDiagnostic is the UTF-8 diagnostic text of an error response.
	PayloadDiagnostic

	// PayloadEncrypted is protected by the security-context option.
	PayloadEncrypted

	// PayloadTyped has a declared Content-Format.
	PayloadTyped
)

// String returns a string representation of the kind.
func (k PayloadKind) String() string {
	switch k {
	case PayloadNone:
		return "none"
	case PayloadOpaque:
		return "opaque"
	case PayloadDiagnostic:
		return "diagnostic"
	case PayloadEncrypted:
		return "encrypted"
	case PayloadTyped:
		return "typed"
	default:
		return "unknown"
	}
}

// DispatchTextPlain is the dispatch key for diagnostic payloads.
const DispatchTextPlain = "text/plain"

// Payload is the classified trailing payload of a message.
type Payload struct {
	Kind   PayloadKind
	Offset int
	Data   []byte

	// MIME is the resolved content type shown to users.
	MIME string

	// DispatchKey selects the external payload decoder.
	DispatchKey string

	// ContentFormatPresent is false when no Content-Format option was sent.
	ContentFormatPresent bool
}

// Len returns the payload length in bytes.
func (p Payload) Len() int { return len(p.Data) }

// Describe renders the payload headline shown with the message.
func (p Payload) Describe() string {
	if p.Kind == PayloadEncrypted {
		return "Encrypted OSCORE Data"
	}
	suffix := ""
	if !p.ContentFormatPresent {
		suffix = " (no Content-Format)"
	}
	return fmt.Sprintf("Payload Content-Format: %s%s, Length: %d", p.MIME, suffix, len(p.Data))
}

// Classify resolves the effective content type of the message payload.
//
// A missing Content-Format and one with value 0 resolve alike: error
// responses carry diagnostic text, everything else is an octet stream. A
// message with the security-context option is always encrypted.
func Classify(m *Message) Payload {
	p := Payload{
		Offset:               m.PayloadOffset,
		Data:                 m.Payload,
		ContentFormatPresent: m.HasContentFormat,
	}
	if len(m.Payload) == 0 {
		p.Kind = PayloadNone
		return p
	}

	switch {
	case !m.HasContentFormat || m.ContentFormat.ID == 0:
		if m.Code.IsError() {
			p.Kind = PayloadDiagnostic
			p.MIME = MIMETextPlain
			p.DispatchKey = DispatchTextPlain
		} else {
			p.Kind = PayloadOpaque
			p.MIME = MIMEOctetStream
			p.DispatchKey = MIMEOctetStream
		}
	default:
		p.Kind = PayloadTyped
		p.MIME = m.ContentFormat.MIME
		p.DispatchKey = m.ContentFormat.MIME
	}

	if m.Secured {
		p.Kind = PayloadEncrypted
		p.DispatchKey = MIMEOctetStream
	}
	return p
}

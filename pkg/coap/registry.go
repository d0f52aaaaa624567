// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import "fmt"

// Well-known transport ports.
const (
	DefaultPort       = 5683
	DefaultSecurePort = 5684
)

// Type is the 2-bit message exchange type.
type Type uint8

const (
	Confirmable Type = iota
	NonConfirmable
	Acknowledgement
	Reset
)

var typeNames = [...]string{
	Confirmable:     "Confirmable",
	NonConfirmable:  "Non-Confirmable",
	Acknowledgement: "Acknowledgement",
	Reset:           "Reset",
}

var typeShortNames = [...]string{
	Confirmable:     "CON",
	NonConfirmable:  "NON",
	Acknowledgement: "ACK",
	Reset:           "RST",
}

// String returns the long type name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Unknown %d", t)
}

// Short returns the three-letter type name.
func (t Type) Short() string {
	if int(t) < len(typeShortNames) {
		return typeShortNames[t]
	}
	return fmt.Sprintf("Unknown %d", t)
}

// Code is the method or response status byte: class in the top 3 bits,
// detail in the low 5.
type Code uint8

// Method codes.
const (
	EmptyMessage Code = 0
	GET          Code = 1
	POST         Code = 2
	PUT          Code = 3
	DELETE       Code = 4
	FETCH        Code = 5
	PATCH        Code = 6
	IPATCH       Code = 7
)

// Response codes referenced by the decoder and tests.
const (
	Created             Code = 65
	Deleted             Code = 66
	Valid               Code = 67
	Changed             Code = 68
	Content             Code = 69
	Continue            Code = 95
	BadRequest          Code = 128
	NotFound            Code = 132
	InternalServerError Code = 160
)

var codeNames = map[Code]string{
	EmptyMessage: "Empty Message",
	GET:          "GET",
	POST:         "POST",
	PUT:          "PUT",
	DELETE:       "DELETE",
	FETCH:        "FETCH",
	PATCH:        "PATCH",
	IPATCH:       "iPATCH",

	65:  "2.01 Created",
	66:  "2.02 Deleted",
	67:  "2.03 Valid",
	68:  "2.04 Changed",
	69:  "2.05 Content",
	95:  "2.31 Continue",
	128: "4.00 Bad Request",
	129: "4.01 Unauthorized",
	130: "4.02 Bad Option",
	131: "4.03 Forbidden",
	132: "4.04 Not Found",
	133: "4.05 Method Not Allowed",
	134: "4.06 Not Acceptable",
	136: "4.08 Request Entity Incomplete",
	137: "4.09 Conflict",
	140: "4.12 Precondition Failed",
	141: "4.13 Request Entity Too Large",
	143: "4.15 Unsupported Content-Format",
	150: "4.22 Unprocessable Entity",
	160: "5.00 Internal Server Error",
	161: "5.01 Not Implemented",
	162: "5.02 Bad Gateway",
	163: "5.03 Service Unavailable",
	164: "5.04 Gateway Timeout",
	165: "5.05 Proxying Not Supported",
}

// Class returns the top 3 bits of the code.
func (c Code) Class() uint8 { return uint8(c) >> 5 }

// Detail returns the low 5 bits of the code.
func (c Code) Detail() uint8 { return uint8(c) & 0x1f }

// IsRequest reports whether the code is in the method class. The empty
// message (0.00) is in that class too.
func (c Code) IsRequest() bool { return c.Class() == 0 }

// IsResponse reports whether the code is a success, client or server error status.
func (c Code) IsResponse() bool { return c.Class() >= 2 && c.Class() <= 5 }

// IsError reports whether the code is a client or server error status.
func (c Code) IsError() bool { return c.Class() == 4 || c.Class() == 5 }

// String returns the registered label, or "Unknown N".
func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown %d", uint8(c))
}

// OptionNumber is the absolute option number rebuilt from the deltas.
type OptionNumber uint32

const (
	IfMatch        OptionNumber = 1
	URIHost        OptionNumber = 3
	ETag           OptionNumber = 4
	IfNoneMatch    OptionNumber = 5
	Observe        OptionNumber = 6
	URIPort        OptionNumber = 7
	LocationPath   OptionNumber = 8
	URIPath        OptionNumber = 11
	ContentFormat  OptionNumber = 12
	MaxAge         OptionNumber = 14
	URIQuery       OptionNumber = 15
	Accept         OptionNumber = 17
	LocationQuery  OptionNumber = 20
	ObjectSecurity OptionNumber = 21
	Block2         OptionNumber = 23
	Block1         OptionNumber = 27
	BlockSize      OptionNumber = 28
	ProxyURI       OptionNumber = 35
	ProxyScheme    OptionNumber = 39
	Size1          OptionNumber = 60
)

var optionNames = map[OptionNumber]string{
	IfMatch:        "If-Match",
	URIHost:        "Uri-Host",
	ETag:           "Etag",
	IfNoneMatch:    "If-None-Match",
	Observe:        "Observe",
	URIPort:        "Uri-Port",
	LocationPath:   "Location-Path",
	URIPath:        "Uri-Path",
	ContentFormat:  "Content-Format",
	MaxAge:         "Max-age",
	URIQuery:       "Uri-Query",
	Accept:         "Accept",
	LocationQuery:  "Location-Query",
	ObjectSecurity: "Object-Security",
	Block2:         "Block2",
	Block1:         "Block1",
	BlockSize:      "Block Size",
	ProxyURI:       "Proxy-Uri",
	ProxyScheme:    "Proxy-Scheme",
	Size1:          "Size1",
}

// lengthRange bounds the value length of a registered option, inclusive.
type lengthRange struct {
	min, max int
}

var optionRanges = map[OptionNumber]lengthRange{
	IfMatch:        {0, 8},
	URIHost:        {1, 255},
	ETag:           {1, 8},
	IfNoneMatch:    {0, 0},
	Observe:        {0, 3},
	URIPort:        {0, 2},
	LocationPath:   {0, 255},
	URIPath:        {0, 255},
	ContentFormat:  {0, 2},
	MaxAge:         {0, 4},
	URIQuery:       {1, 255},
	Accept:         {0, 2},
	LocationQuery:  {0, 255},
	ObjectSecurity: {0, 255},
	Block2:         {0, 3},
	Block1:         {0, 3},
	BlockSize:      {0, 4},
	ProxyURI:       {1, 1034},
	ProxyScheme:    {1, 255},
	Size1:          {0, 4},
}

// Known reports whether the number is in the option registry.
func (n OptionNumber) Known() bool {
	_, ok := optionRanges[n]
	return ok
}

// NoOp reports whether an unregistered number falls on the padding positions.
func (n OptionNumber) NoOp() bool { return !n.Known() && n%14 == 0 }

// Critical reports whether an unrecognized option of this number must be rejected.
func (n OptionNumber) Critical() bool { return n&1 != 0 }

// Unsafe reports whether a proxy must understand the option to forward it.
func (n OptionNumber) Unsafe() bool { return n&2 != 0 }

// NoCacheKey reports whether the option is excluded from the cache key.
func (n OptionNumber) NoCacheKey() bool { return n&0x1e == 0x1c }

// Name returns the registered option name.
func (n OptionNumber) Name() string {
	if s, ok := optionNames[n]; ok {
		return s
	}
	if n%14 == 0 {
		return "No-Op"
	}
	return "Unknown Option"
}

// Describe renders the option properties, e.g. "Type 11, Critical, Unsafe".
func (n OptionNumber) Describe() string {
	crit := "Elective"
	if n.Critical() {
		crit = "Critical"
	}
	safe := "Safe"
	if n.Unsafe() {
		safe = "Unsafe"
	}
	s := fmt.Sprintf("Type %d, %s, %s", uint32(n), crit, safe)
	if n.NoCacheKey() {
		s += ", NoCacheKey"
	}
	return s
}

// MIME types for registered content formats.
const (
	MIMETextPlain   = "text/plain; charset=utf-8"
	MIMEOctetStream = "application/octet-stream"
)

var mediaTypes = map[uint32]string{
	0:     MIMETextPlain,
	40:    "application/link-format",
	41:    "application/xml",
	42:    MIMEOctetStream,
	47:    "application/exi",
	50:    "application/json",
	60:    "application/cbor",
	1542:  "application/vnd.oma.lwm2m+tlv",
	1543:  "application/vnd.oma.lwm2m+json",
	11542: "application/vnd.oma.lwm2m+tlv",
	11543: "application/vnd.oma.lwm2m+json",
}

// MediaType returns the MIME string registered for a content format,
// or "Unknown Type N".
func MediaType(id uint32) string {
	if s, ok := mediaTypes[id]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Type %d", id)
}

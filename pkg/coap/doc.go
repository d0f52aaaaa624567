// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap decodes CoAP datagrams into their header, option sequence and
// payload.
//
// # Wire Format
//
//	byte 0     version(2) | type(2) | token length(4)
//	byte 1     code (class.detail)
//	bytes 2-3  message ID, big endian
//	token      token-length bytes
//	options    header byte [delta(4) | length(4)], extensions, value
//	0xFF       end-of-options marker, then payload
//
// Delta and length nibbles 0-12 are literal. 13 adds one extension byte
// (value 13+b), 14 adds two (value 269+n). 15 is reserved: as a delta it is
// only legal inside the 0xFF marker, as a length never.
//
// # Errors
//
// Reserved nibbles and option values running past the message end are fatal:
// Decode returns the message decoded so far together with an error from
// pkg/errors. Unknown option numbers, value lengths outside the registered
// bounds and unsupported Object-Security flag combinations are reported as
// diagnostics and decoding continues.
//
// # Payload
//
// Classify resolves the payload content type. Without a Content-Format (or
// with format 0) error responses carry diagnostic text and everything else
// is an octet stream; an Object-Security option marks the payload encrypted.
package coap

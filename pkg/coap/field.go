// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"encoding/binary"
	"errors"

	coaperrors "github.com/absmach/coapscope/pkg/errors"
)

// Extended nibble encodings shared by option delta and option length.
const (
	ext8Nibble  = 13
	ext16Nibble = 14
	reserved    = 15

	ext8Base  = 13
	ext16Base = 269
)

// PayloadMarker ends the option sequence.
const PayloadMarker = 0xff

// readExtended decodes the integer carried by nibble, consuming its extension
// bytes from data[off:end]. It returns the value and the number of extension
// bytes consumed. Nibble 15 yields ErrReservedNibble; the caller decides which
// reserved-field error that is.
func readExtended(nibble uint8, data []byte, off, end int) (uint32, int, error) {
	switch {
	case nibble <= 12:
		return uint32(nibble), 0, nil
	case nibble == ext8Nibble:
		if off+1 > end {
			return 0, 0, coaperrors.ErrTruncated
		}
		return ext8Base + uint32(data[off]), 1, nil
	case nibble == ext16Nibble:
		if off+2 > end {
			return 0, 0, coaperrors.ErrTruncated
		}
		return ext16Base + uint32(binary.BigEndian.Uint16(data[off:off+2])), 2, nil
	default:
		return 0, 0, errReservedNibble
	}
}

var errReservedNibble = errors.New("reserved nibble 15")

// uintValue decodes a big-endian unsigned integer of 0-4 bytes.
// ok is false for longer values.
func uintValue(b []byte) (v uint32, ok bool) {
	if len(b) > 4 {
		return 0, false
	}
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v, true
}

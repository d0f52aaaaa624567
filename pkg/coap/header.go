// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"encoding/binary"
	"fmt"

	coaperrors "github.com/absmach/coapscope/pkg/errors"
)

// HeaderSize is the length of the fixed message header.
const HeaderSize = 4

// MaxTokenLength is the largest token length the protocol allows.
const MaxTokenLength = 8

const (
	versionMask  = 0xc0
	typeMask     = 0x30
	tokenLenMask = 0x0f
)

// Header holds the fixed leading fields of a message.
type Header struct {
	Version     uint8
	Type        Type
	TokenLength uint8 // As declared; 9-15 are not rejected
	Code        Code
	MessageID   uint16
}

// DecodeHeader reads the 4 fixed header bytes and the token that follows them.
// It returns the offset of the first option byte.
func DecodeHeader(data []byte) (Header, Token, int, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, 0, coaperrors.New("header", 0, 0, coaperrors.ErrTruncated)
	}

	h := Header{
		Version:     (data[0] & versionMask) >> 6,
		Type:        Type((data[0] & typeMask) >> 4),
		TokenLength: data[0] & tokenLenMask,
		Code:        Code(data[1]),
		MessageID:   binary.BigEndian.Uint16(data[2:4]),
	}

	off := HeaderSize
	end := off + int(h.TokenLength)
	if end > len(data) {
		return h, nil, off, coaperrors.New("token", off, 0, coaperrors.ErrTruncated)
	}
	var tok Token
	if h.TokenLength > 0 {
		tok = make(Token, h.TokenLength)
		copy(tok, data[off:end])
	}
	return h, tok, end, nil
}

// Token is the opaque request/response correlation value.
type Token []byte

// Key returns the token as a map key.
func (t Token) Key() string { return string(t) }

// String renders the token as space-separated hex pairs.
func (t Token) String() string {
	if len(t) == 0 {
		return ""
	}
	return hexPunct(t)
}

func hexPunct(b []byte) string {
	return fmt.Sprintf("% x", b)
}

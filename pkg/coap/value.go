// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"fmt"
	"strconv"
)

// NullString is displayed in place of zero-length text and byte values.
const NullString = "(null)"

// Value is the decoded semantic value of an option. The concrete type is one
// of Uint, Opaque, Text, ContentFormatValue, Block, SecurityContext, Empty or Unknown.
type Value interface {
	fmt.Stringer
	isValue()
}

// Uint is a big-endian unsigned integer option value.
type Uint uint32

// Opaque is a byte string option value.
type Opaque []byte

// Text is a UTF-8 string option value.
type Text string

// Empty is the value of an option that carries no data by definition.
type Empty struct{}

// Unknown holds the bytes of an unregistered option number.
type Unknown struct {
	Raw  []byte
	NoOp bool
}

// ContentFormatValue is a decoded Content-Format or Accept option.
type ContentFormatValue struct {
	ID   uint32
	MIME string
}

// Block is a decoded Block1 or Block2 option.
type Block struct {
	Num  uint32
	More bool
	SZX  uint8
}

// SecurityContext is the decoded Object-Security option framing.
type SecurityContext struct {
	NoFlagByte       bool // Zero-length option: all flags clear
	Flags            byte
	NonCompressed    bool
	Expand           bool
	SignaturePresent bool
	KeyIDContextFlag bool
	KeyIDFlag        bool
	PartialIVLength  uint8
	PartialIV        []byte
	KeyIDContext     []byte
	KeyID            []byte
}

func (Uint) isValue()               {}
func (Opaque) isValue()             {}
func (Text) isValue()               {}
func (Empty) isValue()              {}
func (Unknown) isValue()            {}
func (ContentFormatValue) isValue() {}
func (Block) isValue()              {}
func (SecurityContext) isValue()    {}

func (v Uint) String() string { return strconv.FormatUint(uint64(v), 10) }

func (v Opaque) String() string { return bytesOrNull(v) }

func (v Text) String() string {
	if v == "" {
		return NullString
	}
	return string(v)
}

func (Empty) String() string { return "" }

func (v Unknown) String() string { return bytesOrNull(v.Raw) }

func (v ContentFormatValue) String() string { return v.MIME }

// Size returns the block size in bytes, 16 through 2048.
func (b Block) Size() int { return 1 << (b.SZX + 4) }

func (b Block) String() string {
	m := 0
	if b.More {
		m = 1
	}
	return fmt.Sprintf("NUM:%d, M:%d, SZX:%d", b.Num, m, b.Size())
}

func (s SecurityContext) String() string {
	if s.NoFlagByte {
		return "00 (no Flag Byte)"
	}
	return fmt.Sprintf("Key ID:%s, Key ID Context:%s, Partial IV:%s",
		bytesOrNull(s.KeyID), bytesOrNull(s.KeyIDContext), bytesOrNull(s.PartialIV))
}

func bytesOrNull(b []byte) string {
	if len(b) == 0 {
		return NullString
	}
	return hexPunct(b)
}

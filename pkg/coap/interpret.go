// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import "github.com/absmach/coapscope/pkg/diag"

// interpreter turns the raw bytes of one option into its semantic value.
type interpreter func(d *decoder, opt *Option) Value

var interpreters = map[OptionNumber]interpreter{
	IfMatch:        interpretOpaque,
	URIHost:        interpretURIHost,
	ETag:           interpretOpaque,
	IfNoneMatch:    interpretEmpty,
	Observe:        interpretUint,
	URIPort:        interpretURIPort,
	LocationPath:   interpretText,
	URIPath:        interpretURIPath,
	ContentFormat:  interpretContentFormat,
	MaxAge:         interpretUint,
	URIQuery:       interpretURIQuery,
	Accept:         interpretContentFormat,
	LocationQuery:  interpretText,
	ObjectSecurity: interpretObjectSecurity,
	Block2:         interpretBlock,
	Block1:         interpretBlock,
	BlockSize:      interpretUint,
	ProxyURI:       interpretText,
	ProxyScheme:    interpretText,
	Size1:          interpretUint,
}

func interpret(d *decoder, opt *Option) Value {
	if fn, ok := interpreters[opt.Number]; ok {
		return fn(d, opt)
	}
	return Unknown{Raw: opt.Raw, NoOp: opt.Number%14 == 0}
}

func interpretOpaque(_ *decoder, opt *Option) Value {
	return Opaque(opt.Raw)
}

func interpretEmpty(_ *decoder, _ *Option) Value {
	return Empty{}
}

func interpretText(_ *decoder, opt *Option) Value {
	return Text(opt.Raw)
}

func interpretUint(_ *decoder, opt *Option) Value {
	v, ok := uintValue(opt.Raw)
	if !ok {
		return Opaque(opt.Raw)
	}
	return Uint(v)
}

func interpretURIHost(d *decoder, opt *Option) Value {
	host := string(opt.Raw)
	d.msg.URI.AddHost(host)
	return Text(host)
}

func interpretURIPort(d *decoder, opt *Option) Value {
	port, ok := uintValue(opt.Raw)
	if !ok {
		return Opaque(opt.Raw)
	}
	d.msg.URI.AddPort(port)
	return Uint(port)
}

func interpretURIPath(d *decoder, opt *Option) Value {
	seg := string(opt.Raw)
	d.msg.URI.AddPathSegment(seg)
	return Text(seg)
}

func interpretURIQuery(d *decoder, opt *Option) Value {
	seg := string(opt.Raw)
	d.msg.URI.AddQuerySegment(seg)
	return Text(seg)
}

func interpretContentFormat(d *decoder, opt *Option) Value {
	id, ok := uintValue(opt.Raw)
	if !ok {
		return Opaque(opt.Raw)
	}
	v := ContentFormatValue{ID: id, MIME: MediaType(id)}
	if opt.Number == ContentFormat {
		d.msg.ContentFormat = v
		d.msg.HasContentFormat = true
	}
	return v
}

const (
	blockMoreMask = 0x08
	blockSZXMask  = 0x07
)

func interpretBlock(d *decoder, opt *Option) Value {
	var b Block
	if n := len(opt.Raw); n > 0 {
		num, ok := uintValue(opt.Raw)
		if !ok {
			return Opaque(opt.Raw)
		}
		tail := opt.Raw[n-1] & 0x0f
		b = Block{
			Num:  num >> 4,
			More: tail&blockMoreMask != 0,
			SZX:  tail & blockSZXMask,
		}
	}
	d.msg.Block = &b
	d.msg.BlockOption = opt.Number
	return b
}

const (
	secNonCompressedMask = 0x80
	secExpandMask        = 0x40
	secSignatureMask     = 0x20
	secKIDContextMask    = 0x10
	secKIDMask           = 0x08
	secPIVLenMask        = 0x07
)

func interpretObjectSecurity(d *decoder, opt *Option) Value {
	d.msg.Secured = true

	raw := opt.Raw
	if len(raw) == 0 {
		return SecurityContext{NoFlagByte: true}
	}

	flags := raw[0]
	sc := SecurityContext{
		Flags:            flags,
		NonCompressed:    flags&secNonCompressedMask != 0,
		Expand:           flags&secExpandMask != 0,
		SignaturePresent: flags&secSignatureMask != 0,
		KeyIDContextFlag: flags&secKIDContextMask != 0,
		KeyIDFlag:        flags&secKIDMask != 0,
		PartialIVLength:  flags & secPIVLenMask,
	}

	if sc.NonCompressed || sc.Expand || sc.SignaturePresent {
		d.report(diag.Warning, diag.KindSecurityUnsupported, opt, "Unsupported format")
	}

	rest := raw[1:]
	if n := int(sc.PartialIVLength); n > 0 {
		sc.PartialIV = d.take(&rest, n, opt, "partial IV")
	}
	if sc.KeyIDContextFlag {
		if l := d.take(&rest, 1, opt, "key ID context length"); len(l) == 1 {
			sc.KeyIDContext = d.take(&rest, int(l[0]), opt, "key ID context")
		}
	}
	if sc.KeyIDFlag {
		if len(rest) == 0 {
			d.report(diag.Warning, diag.KindSecurityMissingKeyID, opt,
				"Key ID flag is set but there are no remaining bytes to be processed")
		} else {
			sc.KeyID = rest
		}
	}
	return sc
}

// take cuts n bytes off the front of *rest. A field running past the option
// value is reported and cut short.
func (d *decoder) take(rest *[]byte, n int, opt *Option, field string) []byte {
	b := *rest
	if n > len(b) {
		d.reportf(diag.Warning, diag.KindMalformed, opt,
			"%s needs %d bytes but only %d remain in the option", field, n, len(b))
		n = len(b)
	}
	*rest = b[n:]
	return b[:n]
}

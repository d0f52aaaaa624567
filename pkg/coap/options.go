// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"fmt"

	"github.com/absmach/coapscope/pkg/diag"
	coaperrors "github.com/absmach/coapscope/pkg/errors"
)

// Option is one decoded entry of the option sequence.
type Option struct {
	Index     int          // 1-based position in the sequence
	Number    OptionNumber // Running sum of deltas
	Delta     uint32
	Length    int // Declared value length
	Offset    int // Offset of the option header byte
	ValueAt   int // Offset of the first value byte
	Raw       []byte
	Value     Value
	InRange   bool // Length within the registered bounds (false for unknown numbers)
	HeaderLen int  // Header byte plus extension bytes
}

// Name returns the option's registered name.
func (o Option) Name() string { return o.Number.Name() }

type decoder struct {
	data []byte
	end  int
	msg  *Message
	sink diag.Sink
}

func (d *decoder) report(sev diag.Severity, kind diag.Kind, opt *Option, text string) {
	dg := diag.Diagnostic{
		Severity: sev,
		Kind:     kind,
		Message:  text,
	}
	if opt != nil {
		dg.Offset = opt.Offset
		dg.Option = opt.Index
	}
	d.msg.Diagnostics = append(d.msg.Diagnostics, dg)
	d.sink.Report(dg)
}

func (d *decoder) reportf(sev diag.Severity, kind diag.Kind, opt *Option, format string, args ...any) {
	d.report(sev, kind, opt, fmt.Sprintf(format, args...))
}

// decodeOptions walks the option sequence starting at off. It returns the
// offset of the first payload byte. On a fatal error the options decoded so
// far stay in d.msg and the returned offset is where decoding stopped.
func (d *decoder) decodeOptions(off int) (int, error) {
	var number uint32
	for index := 1; off < d.end; index++ {
		if d.data[off] == PayloadMarker {
			d.msg.EndMarker = true
			return off + 1, nil
		}

		opt, next, err := d.decodeOption(off, index, number)
		if err != nil {
			return off, err
		}
		number = uint32(opt.Number)
		d.msg.Options = append(d.msg.Options, opt)
		off = next
	}
	return off, nil
}

func (d *decoder) decodeOption(off, index int, number uint32) (Option, int, error) {
	start := off
	lead := d.data[off]
	off++

	deltaNibble := lead >> 4
	lengthNibble := lead & 0x0f

	if deltaNibble == reserved {
		return Option{}, start, d.fatal(start, index, coaperrors.ErrReservedDelta,
			"end-of-options marker found, but option length isn't 15")
	}
	delta, n, err := readExtended(deltaNibble, d.data, off, d.end)
	if err != nil {
		return Option{}, start, d.fatal(start, index, err, "option delta extension past the message end")
	}
	off += n

	if lengthNibble == reserved {
		return Option{}, start, d.fatal(start, index, coaperrors.ErrReservedLength,
			"end-of-options marker found, but option delta isn't 15")
	}
	length, n, err := readExtended(lengthNibble, d.data, off, d.end)
	if err != nil {
		return Option{}, start, d.fatal(start, index, err, "option length extension past the message end")
	}
	off += n

	if off+int(length) > d.end {
		return Option{}, start, d.fatal(start, index, coaperrors.ErrOptionOverflow, "option longer than the package")
	}

	opt := Option{
		Index:     index,
		Number:    OptionNumber(number + delta),
		Delta:     delta,
		Length:    int(length),
		Offset:    start,
		ValueAt:   off,
		HeaderLen: off - start,
	}
	if length > 0 {
		opt.Raw = make([]byte, length)
		copy(opt.Raw, d.data[off:off+int(length)])
	}

	d.check(&opt)
	opt.Value = interpret(d, &opt)
	return opt, off + int(length), nil
}

// check validates the option number and value length against the registry.
func (d *decoder) check(opt *Option) {
	r, ok := optionRanges[opt.Number]
	if !ok {
		sev := diag.Warning
		if opt.Number.NoOp() {
			sev = diag.Note
		}
		d.reportf(sev, diag.KindUnknownOption, opt, "Invalid Option Number %d", opt.Number)
		return
	}
	if opt.Length < r.min || opt.Length > r.max {
		d.reportf(diag.Warning, diag.KindLengthOutOfRange, opt,
			"Invalid Option Range: %d (%d < x < %d)", opt.Length, r.min, r.max)
		return
	}
	opt.InRange = true
}

func (d *decoder) fatal(off, index int, err error, text string) error {
	d.msg.Diagnostics = append(d.msg.Diagnostics, diag.Diagnostic{
		Severity: diag.Error,
		Kind:     diag.KindMalformed,
		Offset:   off,
		Option:   index,
		Message:  text,
	})
	d.sink.Report(d.msg.Diagnostics[len(d.msg.Diagnostics)-1])
	return coaperrors.New("option", off, index, err)
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package inspect

import (
	"time"

	"github.com/absmach/coapscope/pkg/tracker"
)

// View is the JSON form of a Record streamed to taps and exporters.
type View struct {
	Frame     uint64    `json:"frame"`
	Time      time.Time `json:"time"`
	Src       string    `json:"src"`
	Dst       string    `json:"dst"`
	Type      string    `json:"type,omitempty"`
	Code      string    `json:"code,omitempty"`
	MessageID uint16    `json:"mid"`
	Token     string    `json:"token,omitempty"`
	URI       string    `json:"uri,omitempty"`
	Summary   string    `json:"summary,omitempty"`

	Options     []OptionView     `json:"options,omitempty"`
	Payload     *PayloadView     `json:"payload,omitempty"`
	Diagnostics []DiagnosticView `json:"diagnostics,omitempty"`

	Role          string  `json:"role,omitempty"`
	RequestFrame  uint64  `json:"request_frame,omitempty"`
	ResponseFrame uint64  `json:"response_frame,omitempty"`
	ElapsedMillis float64 `json:"elapsed_ms,omitempty"`

	Error string `json:"error,omitempty"`
}

// OptionView is one decoded option.
type OptionView struct {
	Number     uint32 `json:"number"`
	Name       string `json:"name"`
	Properties string `json:"properties"`
	Length     int    `json:"length"`
	Value      string `json:"value"`
}

// PayloadView is the classified payload without its bytes.
type PayloadView struct {
	Kind        string `json:"kind"`
	MIME        string `json:"mime"`
	Offset      int    `json:"offset"`
	Length      int    `json:"length"`
	Description string `json:"description"`
}

// DiagnosticView is one reported decode condition.
type DiagnosticView struct {
	Severity string `json:"severity"`
	Kind     string `json:"kind"`
	Offset   int    `json:"offset"`
	Option   int    `json:"option,omitempty"`
	Message  string `json:"message"`
}

// View renders the record for serialization.
func (r *Record) View() View {
	v := View{
		Frame: r.Frame.Number,
		Time:  r.Frame.Time,
		Src:   r.Frame.Src.String(),
		Dst:   r.Frame.Dst.String(),
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}

	m := r.Message
	if m == nil {
		return v
	}
	v.Type = m.Type.Short()
	v.Code = m.Code.String()
	v.MessageID = m.MessageID
	v.Token = m.Token.String()
	v.URI = m.URIString()
	v.Summary = m.Summary()

	for _, o := range m.Options {
		ov := OptionView{
			Number:     uint32(o.Number),
			Name:       o.Name(),
			Properties: o.Number.Describe(),
			Length:     o.Length,
		}
		if o.Value != nil {
			ov.Value = o.Value.String()
		}
		v.Options = append(v.Options, ov)
	}
	for _, d := range m.Diagnostics {
		v.Diagnostics = append(v.Diagnostics, DiagnosticView{
			Severity: d.Severity.String(),
			Kind:     d.Kind.String(),
			Offset:   d.Offset,
			Option:   d.Option,
			Message:  d.Message,
		})
	}

	if r.Payload.Len() > 0 {
		v.Payload = &PayloadView{
			Kind:        r.Payload.Kind.String(),
			MIME:        r.Payload.MIME,
			Offset:      r.Payload.Offset,
			Length:      r.Payload.Len(),
			Description: r.Payload.Describe(),
		}
	}

	t := r.Tracking
	if t.Role != tracker.RoleNone {
		v.Role = t.Role.String()
	}
	if t.Found {
		switch t.Role {
		case tracker.RoleRequest:
			v.ResponseFrame = t.Transaction.ResponseFrame
		case tracker.RoleResponse:
			v.RequestFrame = t.Transaction.RequestFrame
			v.ElapsedMillis = float64(t.Elapsed) / float64(time.Millisecond)
		}
	}
	return v
}

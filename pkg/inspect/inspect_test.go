// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/absmach/coapscope/pkg/coap"
	"github.com/absmach/coapscope/pkg/diag"
	"github.com/absmach/coapscope/pkg/dispatch"
	coaperrors "github.com/absmach/coapscope/pkg/errors"
	"github.com/absmach/coapscope/pkg/tracker"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

var (
	clientAddr = netip.MustParseAddrPort("192.0.2.10:40001")
	serverAddr = netip.MustParseAddrPort("198.51.100.1:5683")
	start      = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func marshal(t *testing.T, build func(m *pool.Message)) []byte {
	t.Helper()
	msg := pool.NewMessage(context.Background())
	defer msg.Reset()
	build(msg)
	data, err := msg.MarshalWithEncoder(coder.DefaultCoder)
	if err != nil {
		t.Fatalf("Failed to marshal CoAP message: %v", err)
	}
	return data
}

func getRequest(t *testing.T) []byte {
	return marshal(t, func(m *pool.Message) {
		m.SetCode(codes.GET)
		m.SetType(message.Confirmable)
		m.SetMessageID(100)
		m.SetToken(message.Token{0xab})
		m.SetOptionString(message.URIHost, "example.org")
		if err := m.SetPath("/sensors/temp"); err != nil {
			t.Fatalf("SetPath() error = %v", err)
		}
	})
}

func contentResponse(t *testing.T) []byte {
	return marshal(t, func(m *pool.Message) {
		m.SetCode(codes.Content)
		m.SetType(message.Acknowledgement)
		m.SetMessageID(100)
		m.SetToken(message.Token{0xab})
		m.SetContentFormat(message.AppJSON)
		m.SetBody(bytes.NewReader([]byte(`{"t":21.5}`)))
	})
}

type dispatched struct {
	key    string
	data   []byte
	offset int
}

func TestInspect_RequestResponse(t *testing.T) {
	var got []dispatched
	d := dispatch.Func(func(_ context.Context, key string, data []byte, offset int) {
		got = append(got, dispatched{key, data, offset})
	})
	in := New(tracker.NewStore(), WithDispatcher(d))
	ctx := context.Background()

	req, err := in.Inspect(ctx, Frame{Number: 1, Time: start, Src: clientAddr, Dst: serverAddr, Data: getRequest(t)})
	if err != nil {
		t.Fatalf("Inspect(request) error = %v", err)
	}
	if !req.Tracking.Created {
		t.Error("Expected request to create a transaction")
	}
	if got := req.Message.URIString(); got != "coap://example.org/sensors/temp" {
		t.Errorf("Request URI = %q", got)
	}

	rspData := contentResponse(t)
	rsp, err := in.Inspect(ctx, Frame{Number: 2, Time: start.Add(40 * time.Millisecond), Src: serverAddr, Dst: clientAddr, Data: rspData})
	if err != nil {
		t.Fatalf("Inspect(response) error = %v", err)
	}
	if !rsp.Tracking.Matched || rsp.Tracking.Transaction.RequestFrame != 1 {
		t.Errorf("Expected response matched to frame 1, got %+v", rsp.Tracking)
	}
	if rsp.Tracking.Elapsed != 40*time.Millisecond {
		t.Errorf("Elapsed = %v", rsp.Tracking.Elapsed)
	}
	if got := rsp.Message.URIString(); got != "coap://example.org/sensors/temp" {
		t.Errorf("Expected response to inherit the request URI, got %q", got)
	}
	if rsp.Payload.Kind != coap.PayloadTyped || rsp.Payload.MIME != "application/json" {
		t.Errorf("Unexpected payload %+v", rsp.Payload)
	}

	if len(got) != 1 {
		t.Fatalf("Expected one dispatched payload, got %d", len(got))
	}
	if got[0].key != "application/json" || string(got[0].data) != `{"t":21.5}` {
		t.Errorf("Unexpected dispatch %+v", got[0])
	}
	if !bytes.Equal(rspData[got[0].offset:], got[0].data) {
		t.Error("Dispatched offset does not point at the payload")
	}
}

func TestInspect_Replay(t *testing.T) {
	in := New(nil)
	ctx := context.Background()
	frames := []Frame{
		{Number: 1, Time: start, Src: clientAddr, Dst: serverAddr, Data: getRequest(t)},
		{Number: 2, Time: start.Add(5 * time.Millisecond), Src: serverAddr, Dst: clientAddr, Data: contentResponse(t)},
	}

	var first []View
	for pass := 0; pass < 4; pass++ {
		for i, f := range frames {
			rec, err := in.Inspect(ctx, f)
			if err != nil {
				t.Fatalf("pass %d frame %d: %v", pass, f.Number, err)
			}
			if pass == 0 {
				if !rec.Tracking.Created && !rec.Tracking.Matched {
					t.Errorf("frame %d: expected first pass to mutate the store", f.Number)
				}
				continue
			}
			if rec.Tracking.Created || rec.Tracking.Matched {
				t.Errorf("pass %d frame %d: replay mutated the store", pass, f.Number)
			}
			v := rec.View()
			if pass == 1 {
				first = append(first, v)
				continue
			}
			if v.ResponseFrame != first[i].ResponseFrame || v.RequestFrame != first[i].RequestFrame ||
				v.URI != first[i].URI || v.ElapsedMillis != first[i].ElapsedMillis {
				t.Errorf("pass %d frame %d: view differs\n got %+v\nwant %+v", pass, f.Number, v, first[i])
			}
		}
	}

	// The request view on later passes links to the response.
	if rec, _ := in.Inspect(ctx, frames[0]); rec.View().ResponseFrame != 2 {
		t.Error("Expected request to link to its response")
	}
	if n := in.Store().Transactions(); n != 1 {
		t.Errorf("Expected one transaction, got %d", n)
	}
}

func TestInspect_FatalSkipsTracking(t *testing.T) {
	rec := &diag.Recorder{}
	in := New(nil, WithSink(rec))

	// Uri-Path "a", then an option claiming 5 bytes with 2 left.
	data := []byte{0x41, 0x01, 0x00, 0x07, 0x01, 0xb1, 'a', 0x05, 0x01, 0x02}
	r, err := in.Inspect(context.Background(), Frame{Number: 1, Src: clientAddr, Dst: serverAddr, Data: data})
	if !errors.Is(err, coaperrors.ErrOptionOverflow) {
		t.Fatalf("Expected overflow, got %v", err)
	}
	if r.Message == nil || len(r.Message.Options) != 1 || r.Message.URIString() != "/a" {
		t.Fatalf("Expected the decoded prefix, got %+v", r.Message)
	}
	if r.Tracking.Found || in.Store().Transactions() != 0 {
		t.Error("Expected no tracking after a fatal error")
	}
	if r.Payload.Kind != coap.PayloadNone {
		t.Error("Expected no payload after a fatal error")
	}

	diags := rec.Diagnostics()
	if len(diags) != 1 || diags[0].Severity != diag.Error {
		t.Errorf("Expected a single error diagnostic, got %v", diags)
	}
	if v := r.View(); v.Error == "" || len(v.Diagnostics) != 1 {
		t.Errorf("Expected error in view, got %+v", v)
	}
}

func TestInspect_TruncatedHeader(t *testing.T) {
	in := New(nil)
	r, err := in.Inspect(context.Background(), Frame{Number: 1, Data: []byte{0x40}})
	if !errors.Is(err, coaperrors.ErrTruncated) {
		t.Fatalf("Expected ErrTruncated, got %v", err)
	}
	if r == nil || r.Message != nil {
		t.Fatal("Expected a record without message")
	}
	if v := r.View(); v.Error == "" || v.Summary != "" {
		t.Errorf("Unexpected view %+v", v)
	}
}

func TestInspect_DiagnosticPayload(t *testing.T) {
	var key string
	in := New(nil, WithDispatcher(dispatch.Func(func(_ context.Context, k string, _ []byte, _ int) { key = k })))

	data := marshal(t, func(m *pool.Message) {
		m.SetCode(codes.NotFound)
		m.SetType(message.Acknowledgement)
		m.SetMessageID(7)
		m.SetBody(bytes.NewReader([]byte("no such resource")))
	})
	r, err := in.Inspect(context.Background(), Frame{Number: 1, Src: serverAddr, Dst: clientAddr, Data: data})
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if r.Payload.Kind != coap.PayloadDiagnostic || key != coap.DispatchTextPlain {
		t.Errorf("Expected diagnostic payload dispatched as text, got %s / %q", r.Payload.Kind, key)
	}
	if r.Tracking.Role != tracker.RoleNone {
		t.Errorf("Expected untracked message without token, got role %s", r.Tracking.Role)
	}
}

func TestRecord_ViewJSON(t *testing.T) {
	in := New(nil)
	r, err := in.Inspect(context.Background(), Frame{Number: 1, Time: start, Src: clientAddr, Dst: serverAddr, Data: getRequest(t)})
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}

	data, err := json.Marshal(r.View())
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded["code"] != "GET" || decoded["type"] != "CON" || decoded["role"] != "request" {
		t.Errorf("Unexpected view %s", data)
	}
	if decoded["summary"] != "CON, MID:100, GET, TKN:ab, coap://example.org/sensors/temp" {
		t.Errorf("Unexpected summary %v", decoded["summary"])
	}
	opts, ok := decoded["options"].([]any)
	if !ok || len(opts) != 3 {
		t.Errorf("Expected 3 options, got %v", decoded["options"])
	}
}

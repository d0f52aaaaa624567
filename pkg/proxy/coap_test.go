// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/absmach/coapscope/pkg/dispatch"
	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/inspect"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

type recordingObserver struct {
	handler.NoopObserver
	records chan *inspect.Record
}

func (r *recordingObserver) OnRecord(ctx context.Context, hctx *handler.Context, rec *inspect.Record) error {
	r.records <- rec
	return nil
}

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

// startBackend answers every datagram with rsp.
func startBackend(t *testing.T, rsp []byte) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			_, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP(rsp, from)
		}
	}()
	return conn
}

func TestCoAPProxy_InspectsBothDirections(t *testing.T) {
	rsp := marshal(t, func(m *pool.Message) {
		m.SetCode(codes.Content)
		m.SetType(message.Acknowledgement)
		m.SetMessageID(7)
		m.SetToken(message.Token{0x0a, 0x0b})
		m.SetContentFormat(message.AppJSON)
		m.SetBody(bytes.NewReader([]byte(`{"on":true}`)))
	})
	backend := startBackend(t, rsp)
	backendAddr := backend.LocalAddr().(*net.UDPAddr)

	var (
		mu   sync.Mutex
		keys []string
	)
	table := dispatch.NewTable(nil)
	table.Register("application/json", dispatch.Func(func(ctx context.Context, key string, data []byte, offset int) {
		mu.Lock()
		keys = append(keys, key+":"+string(data))
		mu.Unlock()
	}))

	obs := &recordingObserver{records: make(chan *inspect.Record, 4)}
	p, err := NewCoAP(CoAPConfig{
		Host:            "127.0.0.1",
		Port:            "0",
		TargetHost:      "127.0.0.1",
		TargetPort:      strconv.Itoa(backendAddr.Port),
		SessionTimeout:  time.Second,
		ShutdownTimeout: time.Second,
		Dispatcher:      table,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, obs)
	if err != nil {
		t.Fatalf("NewCoAP() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Listen(ctx)

	select {
	case <-p.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Proxy did not start")
	}

	client, err := net.DialUDP("udp", nil, p.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("Failed to dial proxy: %v", err)
	}
	defer client.Close()

	req := marshal(t, func(m *pool.Message) {
		m.SetCode(codes.PUT)
		m.SetType(message.Confirmable)
		m.SetMessageID(7)
		m.SetToken(message.Token{0x0a, 0x0b})
		m.SetOptionString(message.URIHost, "lamp.local")
		if err := m.SetPath("/light"); err != nil {
			t.Fatalf("SetPath() error = %v", err)
		}
	})
	if _, err := client.Write(req); err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if !bytes.Equal(buf[:n], rsp) {
		t.Error("Expected response relayed unchanged")
	}

	var recs []*inspect.Record
	for len(recs) < 2 {
		select {
		case rec := <-obs.records:
			recs = append(recs, rec)
		case <-time.After(2 * time.Second):
			t.Fatalf("Expected 2 records, got %d", len(recs))
		}
	}

	if got := recs[0].Message.URIString(); got != "coap://lamp.local/light" {
		t.Errorf("Unexpected request URI %q", got)
	}
	if got := recs[1].Message.URIString(); got != "coap://lamp.local/light" {
		t.Errorf("Expected response to inherit the request URI, got %q", got)
	}
	if recs[1].Payload.MIME != "application/json" {
		t.Errorf("Unexpected payload type %q", recs[1].Payload.MIME)
	}
	if p.Frames() != 2 || p.Store().Len() != 1 {
		t.Errorf("Unexpected frames %d / exchanges %d", p.Frames(), p.Store().Len())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 1 || keys[0] != `application/json:{"on":true}` {
		t.Errorf("Unexpected dispatched payloads %v", keys)
	}
}

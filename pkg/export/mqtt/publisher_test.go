// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/absmach/coapscope/pkg/breaker"
	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/inspect"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

type broker struct {
	ln         net.Listener
	returnCode byte
	connects   chan *packets.ConnectPacket
	publishes  chan *packets.PublishPacket
}

// startBroker accepts MQTT clients, answers CONNECT with returnCode and
// collects every PUBLISH.
func startBroker(t *testing.T, returnCode byte) *broker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	b := &broker{
		ln:         ln,
		returnCode: returnCode,
		connects:   make(chan *packets.ConnectPacket, 4),
		publishes:  make(chan *packets.PublishPacket, 16),
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go b.serve(conn)
		}
	}()
	return b
}

func (b *broker) serve(conn net.Conn) {
	defer conn.Close()
	for {
		pkt, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}
		switch p := pkt.(type) {
		case *packets.ConnectPacket:
			b.connects <- p
			ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
			ack.ReturnCode = b.returnCode
			if err := ack.Write(conn); err != nil {
				return
			}
		case *packets.PublishPacket:
			b.publishes <- p
		case *packets.DisconnectPacket:
			return
		}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord(t *testing.T, data []byte) *inspect.Record {
	t.Helper()
	rec, _ := inspect.New(nil).Inspect(context.Background(), inspect.Frame{
		Number: 1,
		Src:    netip.MustParseAddrPort("10.0.0.1:40000"),
		Dst:    netip.MustParseAddrPort("10.0.0.2:5683"),
		Data:   data,
	})
	return rec
}

func TestPublisher_OnRecord(t *testing.T) {
	b := startBroker(t, packets.Accepted)
	p := New(Config{
		Address:  b.ln.Addr().String(),
		Topic:    "lab/coap/",
		ClientID: "inspector-1",
		Username: "scope",
		Password: "secret",
		Logger:   testLogger(),
	})
	defer p.Close()

	// CON GET, MID 1, no token.
	rec := testRecord(t, []byte{0x40, 0x01, 0x00, 0x01})
	if err := p.OnRecord(context.Background(), &handler.Context{}, rec); err != nil {
		t.Fatalf("OnRecord() error = %v", err)
	}

	select {
	case c := <-b.connects:
		if c.ClientIdentifier != "inspector-1" || c.Username != "scope" || string(c.Password) != "secret" {
			t.Errorf("Unexpected CONNECT %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected CONNECT")
	}

	select {
	case pub := <-b.publishes:
		if pub.TopicName != "lab/coap/con" {
			t.Errorf("Expected topic lab/coap/con, got %q", pub.TopicName)
		}
		if pub.Qos != 0 {
			t.Errorf("Expected QoS 0, got %d", pub.Qos)
		}
		var v inspect.View
		if err := json.Unmarshal(pub.Payload, &v); err != nil {
			t.Fatalf("Failed to decode payload: %v", err)
		}
		if v.Code != "GET" || v.MessageID != 1 {
			t.Errorf("Unexpected view %+v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected PUBLISH")
	}
}

func TestPublisher_Topic(t *testing.T) {
	p := New(Config{Logger: testLogger()})

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"ack", []byte{0x60, 0x45, 0x00, 0x01}, DefaultTopic + "/ack"},
		{"reset", []byte{0x70, 0x00, 0x00, 0x01}, DefaultTopic + "/rst"},
		{"truncated", []byte{0x40}, DefaultTopic + "/malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Topic(testRecord(t, tt.data)); got != tt.want {
				t.Errorf("Topic() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPublisher_Refused(t *testing.T) {
	b := startBroker(t, packets.ErrRefusedNotAuthorised)
	p := New(Config{Address: b.ln.Addr().String(), Logger: testLogger()})

	err := p.Publish(context.Background(), "t", []byte("x"))
	if !errors.Is(err, ErrRefused) {
		t.Errorf("Expected ErrRefused, got %v", err)
	}
}

func TestPublisher_ReconnectsAfterWriteFailure(t *testing.T) {
	b := startBroker(t, packets.Accepted)
	p := New(Config{Address: b.ln.Addr().String(), Logger: testLogger()})
	defer p.Close()
	ctx := context.Background()

	if err := p.Publish(ctx, "t", []byte("1")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// Break the connection underneath the publisher.
	p.mu.Lock()
	p.conn.Close()
	p.mu.Unlock()

	if err := p.Publish(ctx, "t", []byte("2")); err == nil {
		t.Error("Expected error writing to a closed connection")
	}
	if err := p.Publish(ctx, "t", []byte("3")); err != nil {
		t.Fatalf("Publish() after reconnect error = %v", err)
	}

	var got []string
	for len(got) < 2 {
		select {
		case pub := <-b.publishes:
			got = append(got, string(pub.Payload))
		case <-time.After(2 * time.Second):
			t.Fatalf("Expected 2 publishes, got %v", got)
		}
	}
	if got[0] != "1" || got[1] != "3" {
		t.Errorf("Unexpected payloads %v", got)
	}
	if len(b.connects) != 2 {
		t.Errorf("Expected 2 CONNECTs, got %d", len(b.connects))
	}
}

func TestPublisher_DialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := New(Config{Address: addr, Timeout: time.Second, Logger: testLogger()})
	if err := p.Publish(context.Background(), "t", nil); err == nil {
		t.Error("Expected dial error")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() without connection error = %v", err)
	}
}

func TestPublisher_Breaker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cb := breaker.New(breaker.Config{MaxFailures: 2, ResetTimeout: time.Hour})
	p := New(Config{Address: addr, Timeout: time.Second, Breaker: cb, Logger: testLogger()})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := p.Publish(ctx, "t", nil); err == nil || errors.Is(err, breaker.ErrCircuitOpen) {
			t.Fatalf("publish %d: expected dial error, got %v", i, err)
		}
	}
	if err := p.Publish(ctx, "t", nil); !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen once the broker kept failing, got %v", err)
	}
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tap

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/inspect"
	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord(t *testing.T) *inspect.Record {
	t.Helper()
	in := inspect.New(nil)
	rec, err := in.Inspect(context.Background(), inspect.Frame{
		Number: 7,
		Src:    netip.MustParseAddrPort("10.0.0.1:40000"),
		Dst:    netip.MustParseAddrPort("10.0.0.2:5683"),
		// NON GET, MID 9, token 01, Uri-Path "a".
		Data: []byte{0x51, 0x01, 0x00, 0x09, 0x01, 0xb1, 'a'},
	})
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	return rec
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial tap: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_StreamsRecords(t *testing.T) {
	hub := New(Config{Logger: testLogger()})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitClients(t, hub, 2)

	rec := testRecord(t)
	if err := hub.OnRecord(context.Background(), &handler.Context{}, rec); err != nil {
		t.Fatalf("OnRecord() error = %v", err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		typ, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if typ != websocket.TextMessage {
			t.Errorf("Expected text message, got %d", typ)
		}
		var v inspect.View
		if err := json.Unmarshal(data, &v); err != nil {
			t.Fatalf("Failed to decode view: %v", err)
		}
		if v.Frame != 7 || v.Type != "NON" || v.URI != "/a" {
			t.Errorf("Unexpected view %+v", v)
		}
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := New(Config{Logger: testLogger()})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, hub, 1)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitClients(t, hub, 0)

	// Broadcasting with no clients is a no-op.
	if err := hub.OnRecord(context.Background(), &handler.Context{}, testRecord(t)); err != nil {
		t.Errorf("OnRecord() error = %v", err)
	}
}

func TestHub_DropsForFullQueue(t *testing.T) {
	hub := New(Config{BufferSize: 1, Logger: testLogger()})

	// A registered client without a writer never drains its queue.
	c := &client{id: "stuck", send: make(chan []byte, 1)}
	if !hub.register(c) {
		t.Fatal("register() rejected client")
	}

	hub.Broadcast([]byte("one"))
	hub.Broadcast([]byte("two"))
	hub.Broadcast([]byte("three"))

	if hub.Dropped() != 2 {
		t.Errorf("Expected 2 dropped messages, got %d", hub.Dropped())
	}
	if got := string(<-c.send); got != "one" {
		t.Errorf("Expected the first message queued, got %q", got)
	}
}

func TestHub_Close(t *testing.T) {
	hub := New(Config{Logger: testLogger()})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, hub, 1)

	hub.Close()
	if hub.Clients() != 0 {
		t.Errorf("Expected no clients after Close, got %d", hub.Clients())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal close, got %v", err)
	}

	late := dial(t, srv)
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("Expected going away close for late client, got %v", err)
	}
}

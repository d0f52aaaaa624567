// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"testing"
)

type call struct {
	key    string
	data   string
	offset int
}

type recorder struct {
	calls []call
}

func (r *recorder) Dispatch(_ context.Context, key string, data []byte, offset int) {
	r.calls = append(r.calls, call{key: key, data: string(data), offset: offset})
}

func TestTable_Routes(t *testing.T) {
	fallback := &recorder{}
	json := &recorder{}

	tbl := NewTable(fallback)
	tbl.Register("application/json", json)

	tbl.Dispatch(context.Background(), "application/json", []byte("{}"), 12)
	tbl.Dispatch(context.Background(), "application/cbor", []byte{0xa0}, 9)

	if len(json.calls) != 1 || json.calls[0] != (call{"application/json", "{}", 12}) {
		t.Errorf("Unexpected json routes %+v", json.calls)
	}
	if len(fallback.calls) != 1 || fallback.calls[0].key != "application/cbor" {
		t.Errorf("Unexpected fallback routes %+v", fallback.calls)
	}
}

func TestTable_NilFallback(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Dispatch(context.Background(), "text/plain", []byte("x"), 0)

	if _, ok := tbl.Lookup("text/plain"); ok {
		t.Error("Expected no route")
	}
}

func TestFunc(t *testing.T) {
	var got string
	d := Func(func(_ context.Context, key string, _ []byte, _ int) { got = key })
	d.Dispatch(context.Background(), "k", nil, 0)
	if got != "k" {
		t.Errorf("Expected key forwarded, got %q", got)
	}
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tap streams decoded CoAP records to websocket clients.
//
// A Hub is both an http.Handler and a handler.Observer. Mount it on an HTTP
// server and add it to the observer chain; every record the relay inspects
// is sent to each connected client as one JSON text message holding the
// record's inspect.View.
//
//	hub := tap.New(tap.Config{Logger: logger})
//	mux.Handle("/tap", hub)
//	observer := handler.Multi{metrics, hub}
//
// Each client has a bounded queue. When it is full the record is dropped
// for that client only and counted by Dropped; the relay never waits on a
// slow client.
package tap

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap implements the inspecting CoAP parser.
//
// # Overview
//
// Every datagram is decoded with pkg/coap, paired with its request or
// response through the inspector's exchange store, and handed to the
// observer as an inspect.Record. The original bytes are then forwarded
// unchanged.
//
// # Frames
//
// Datagrams are numbered from 1 in the order Parse is called, across all
// sessions sharing the parser. The numbers key the exchange store's replay
// ledger, so one parser should be shared by every server feeding the same
// store.
//
// # Endpoints
//
// Upstream datagrams travel from hctx.RemoteAddr to hctx.BackendAddr,
// downstream ones the other way. Together with the message code they select
// the exchange a message is tracked in.
//
// # Protocol Field
//
// The parser sets hctx.Protocol = "coap" for all sessions.
package coap

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt exports inspected CoAP records to an MQTT broker.
//
// The Publisher speaks MQTT 3.1.1 directly with the paho packet codec: it
// sends CONNECT, waits for an accepting CONNACK and then writes one QoS 0
// PUBLISH per record. The payload is the record's inspect.View as JSON and
// the topic is the configured prefix followed by the lower-case message
// type:
//
//	coapscope/records/con
//	coapscope/records/ack
//	coapscope/records/malformed   (header could not be decoded)
//
// A failed write drops the connection; the next publish dials again. The
// Publisher implements handler.Observer so it can sit in a handler.Multi
// next to metrics and the tap.
package mqtt

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy wires the inspecting CoAP relay together.
//
// # Architecture
//
//	Application
//	     ↓
//	┌─────────────┐
//	│  CoAPProxy  │  (Coordinator)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│ udp.Server  │  (Transport: sessions, worker pool)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│ coap.Parser │  (Frames: numbering, endpoints, forwarding)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│  Inspector  │  (Decode, track, classify, dispatch)
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│  Observer   │  (metrics, tap, export)
//	└─────────────┘
//
// One exchange store is shared by every session of a proxy, so a response
// relayed on any session is matched against the request that opened it.
//
// # Example
//
//	p, err := proxy.NewCoAP(proxy.CoAPConfig{
//		Port:       "5683",
//		TargetHost: "backend",
//		TargetPort: "5683",
//		Logger:     logger,
//	}, handler.Multi{metrics, hub})
//	if err != nil {
//		return err
//	}
//	return p.Listen(ctx)
package proxy

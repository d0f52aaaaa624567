// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tracker pairs CoAP requests with their responses by token.
//
// State is kept per exchange: the client endpoint and the server address,
// with the server's port left out so replies from an ephemeral port land in
// the same exchange. Each exchange maps token bytes to a Transaction that is
// created on the first sight of a request and completed on the first sight
// of a matching response.
//
// Hosts may hand the same frame to the tracker more than once, as a capture
// viewer does when it re-dissects. The Store remembers which frame numbers
// were already committed and only the first processing of a frame mutates a
// transaction; repeated lookups return the same result.
package tracker

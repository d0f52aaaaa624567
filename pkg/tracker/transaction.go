// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"sync"
	"time"

	"github.com/absmach/coapscope/pkg/coap"
)

// Transaction is one request and, once seen, its matching response.
// Frame numbers start at 1; ResponseFrame is 0 until a response is matched.
type Transaction struct {
	RequestFrame  uint64
	ResponseFrame uint64
	RequestTime   time.Time
	ResponseTime  time.Time

	// URI is the request URI as rebuilt from its options.
	URI string
}

// Matched reports whether a response has been recorded.
func (t Transaction) Matched() bool { return t.ResponseFrame != 0 }

// Role is the part a message plays in its transaction.
type Role int

const (
	// RoleNone covers untracked messages: empty code, no token, or a
	// code class that is neither method nor response.
	RoleNone Role = iota
	RoleRequest
	RoleResponse
)

// String returns a string representation of the role.
func (r Role) String() string {
	switch r {
	case RoleRequest:
		return "request"
	case RoleResponse:
		return "response"
	default:
		return "none"
	}
}

// Observation is what the tracker needs to know about one decoded message.
type Observation struct {
	Frame uint64
	Time  time.Time
	Code  coap.Code
	Token coap.Token
	URI   string

	// FirstPass is true the first time this frame is processed. Only first
	// passes create or complete transactions.
	FirstPass bool
}

// Result describes how an observation relates to its transaction.
type Result struct {
	Role  Role
	Found bool

	// FirstPass is set when the frame was processed for the first time.
	FirstPass bool

	// Created is set when this observation created the transaction.
	Created bool

	// Matched is set when this observation recorded the response.
	Matched bool

	// Transaction is a snapshot taken after the observation was applied.
	Transaction Transaction

	// Elapsed is the time since the request, for responses.
	Elapsed time.Duration

	// URI is the stored request URI, for responses.
	URI string
}

// Conversation holds the transactions of one exchange keyed by token.
type Conversation struct {
	mu           sync.Mutex
	transactions map[string]*Transaction
}

func newConversation() *Conversation {
	return &Conversation{transactions: make(map[string]*Transaction)}
}

// Track applies an observation and returns the matching transaction, if any.
func (c *Conversation) Track(obs Observation) Result {
	res := Result{FirstPass: obs.FirstPass}
	if len(obs.Token) == 0 || obs.Code == coap.EmptyMessage {
		return res
	}
	switch {
	case obs.Code.IsRequest():
		res.Role = RoleRequest
	case obs.Code.IsResponse():
		res.Role = RoleResponse
	default:
		return res
	}

	key := obs.Token.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	tr, ok := c.transactions[key]
	switch {
	case !ok:
		if !obs.FirstPass || res.Role != RoleRequest {
			return res
		}
		tr = &Transaction{
			RequestFrame: obs.Frame,
			RequestTime:  obs.Time,
			URI:          obs.URI,
		}
		c.transactions[key] = tr
		res.Created = true
	case res.Role == RoleResponse:
		if obs.FirstPass && tr.ResponseFrame == 0 {
			tr.ResponseFrame = obs.Frame
			tr.ResponseTime = obs.Time
			res.Matched = true
		}
		res.URI = tr.URI
		res.Elapsed = obs.Time.Sub(tr.RequestTime)
	}

	res.Found = true
	res.Transaction = *tr
	return res
}

// Lookup returns a snapshot of the transaction for token.
func (c *Conversation) Lookup(token coap.Token) (Transaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr, ok := c.transactions[token.Key()]
	if !ok {
		return Transaction{}, false
	}
	return *tr, true
}

// Len returns the number of transactions in the conversation.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transactions)
}

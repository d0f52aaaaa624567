// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tracker

import "sync"

// Store is the capture-scoped exchange store. It owns every Conversation and
// the ledger of frames already committed to them.
type Store struct {
	mu            sync.RWMutex
	conversations map[ExchangeID]*Conversation
	committed     map[uint64]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[ExchangeID]*Conversation),
		committed:     make(map[uint64]struct{}),
	}
}

// GetOrCreate returns the conversation for id, creating it on first use.
// The boolean is true when the conversation was created.
func (s *Store) GetOrCreate(id ExchangeID) (*Conversation, bool) {
	s.mu.RLock()
	if c, ok := s.conversations[id]; ok {
		s.mu.RUnlock()
		return c, false
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check in case another goroutine created it
	if c, ok := s.conversations[id]; ok {
		return c, false
	}
	c := newConversation()
	s.conversations[id] = c
	return c, true
}

// Get returns the conversation for id without creating it.
func (s *Store) Get(id ExchangeID) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}

// Visited reports whether frame was already committed.
func (s *Store) Visited(frame uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.committed[frame]
	return ok
}

// Commit marks frame as processed. It returns true on the first call for a
// frame and false on every later one.
func (s *Store) Commit(frame uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.committed[frame]; ok {
		return false
	}
	s.committed[frame] = struct{}{}
	return true
}

// Track commits the observation's frame and applies it to the conversation
// of id. FirstPass is computed from the ledger; the caller's value is ignored.
func (s *Store) Track(id ExchangeID, obs Observation) Result {
	c, _ := s.GetOrCreate(id)
	obs.FirstPass = s.Commit(obs.Frame)
	return c.Track(obs)
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// Transactions returns the number of transactions across all conversations.
func (s *Store) Transactions() int {
	s.mu.RLock()
	convs := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		convs = append(convs, c)
	}
	s.mu.RUnlock()

	n := 0
	for _, c := range convs {
		n += c.Len()
	}
	return n
}

// Reset drops all state, starting a new capture session.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[ExchangeID]*Conversation)
	s.committed = make(map[uint64]struct{})
}

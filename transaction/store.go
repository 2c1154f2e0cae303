// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transaction

import (
	"sync"

	"github.com/spanlink/spanlinkd/counter"
	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/wire"
)

// Store - the two transaction indexes of one link
//
// holds the root pseudo transaction representing the link itself; the
// root is in neither index and every other transaction is one of its
// descendants
type Store struct {
	sync.Mutex

	local  map[uint64]*State // ids issued by this side
	peer   map[uint64]*State // ids issued by the peer
	nextId uint64
	root   *State

	// open transactions in both indexes
	Open counter.Counter
}

// NewStore - create the indexes and the root pseudo transaction
func NewStore() *Store {
	return &Store{
		local: make(map[uint64]*State),
		peer:  make(map[uint64]*State),
		root: &State{
			children: make(map[*State]struct{}),
			accepted: true,
		},
	}
}

// Root - the link's root pseudo transaction
func (s *Store) Root() *State {
	return s.root
}

// Create - allocate a locally numbered transaction
//
// the parent must be open; nil parent attaches to the root
func (s *Store) Create(parent *State, protocol wire.Protocol, command uint8, callback Callback) (*State, error) {
	s.Lock()
	defer s.Unlock()

	if nil == parent {
		parent = s.root
	}
	if parent.IsClosed() {
		return nil, fault.TransactionAlreadyClosed
	}

	s.nextId += 1 // id 0 is reserved for the root

	t := &State{
		id:         s.nextId,
		peerIssued: false,
		protocol:   protocol,
		command:    command,
		parent:     parent,
		children:   make(map[*State]struct{}),
		callback:   callback,
	}
	if !parent.IsRoot() {
		t.circuitId = parent.id
	}

	s.local[t.id] = t
	parent.children[t] = struct{}{}
	s.Open.Increment()

	return t, nil
}

// Attach - register a peer numbered transaction seen on a create
// frame
//
// a duplicate id while the first is still open means the peer's
// bookkeeping has diverged, which is fatal to the link
func (s *Store) Attach(id uint64, parent *State, protocol wire.Protocol, command uint8) (*State, error) {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.peer[id]; ok {
		return nil, fault.CreateOnOpenTransaction
	}

	if nil == parent {
		parent = s.root
	}
	if parent.IsClosed() {
		return nil, fault.CircuitNotFound
	}

	t := &State{
		id:         id,
		peerIssued: true,
		protocol:   protocol,
		command:    command,
		accepted:   true,
		parent:     parent,
		children:   make(map[*State]struct{}),
	}
	if !parent.IsRoot() {
		t.circuitId = parent.id
	}

	s.peer[id] = t
	parent.children[t] = struct{}{}
	s.Open.Increment()

	return t, nil
}

// Lookup - find a transaction by id
//
// rev selects the locally-issued index: set when the incoming frame
// carries the revtrans flag, i.e. the sender says the id is ours
func (s *Store) Lookup(id uint64, rev bool) (*State, error) {
	s.Lock()
	defer s.Unlock()

	var t *State
	var ok bool
	if rev {
		t, ok = s.local[id]
	} else {
		t, ok = s.peer[id]
	}
	if !ok {
		return nil, fault.TransactionNotFound
	}
	return t, nil
}

// LookupCircuit - resolve a circuit id to its open transaction
//
// circuit id 0 is the root pseudo transaction
func (s *Store) LookupCircuit(id uint64, rev bool) (*State, error) {
	if 0 == id {
		return s.root, nil
	}
	t, err := s.Lookup(id, rev)
	if nil != err {
		return nil, fault.CircuitNotFound
	}
	return t, nil
}

// MarkAccepted - a frame arrived for the transaction
func (s *Store) MarkAccepted(t *State) {
	s.Lock()
	t.accepted = true
	s.Unlock()
}

// MarkAborting - the abort flag was seen in either direction
func (s *Store) MarkAborting(t *State) {
	s.Lock()
	t.aborting = true
	s.Unlock()
}

// MarkLocalClose - a delete flagged frame was sent for t
//
// returns true when the transaction is now fully closed
func (s *Store) MarkLocalClose(t *State) bool {
	s.Lock()
	defer s.Unlock()
	t.localClose = true
	return t.IsClosed()
}

// MarkRemoteClose - a delete flagged frame was received for t
//
// returns true when the transaction is now fully closed
func (s *Store) MarkRemoteClose(t *State) bool {
	s.Lock()
	defer s.Unlock()
	t.remoteClose = true
	return t.IsClosed()
}

// Release - drop a fully closed record from its index
//
// no-op while children remain; ancestors whose own release was
// blocked by this record are released in the same pass
func (s *Store) Release(t *State) {
	s.Lock()
	s.releaseLocked(t)
	s.Unlock()
}

func (s *Store) releaseLocked(t *State) {
	for nil != t && !t.IsRoot() && !t.released && t.IsClosed() && 0 == len(t.children) {
		if t.peerIssued {
			delete(s.peer, t.id)
		} else {
			delete(s.local, t.id)
		}
		delete(t.parent.children, t)
		t.released = true
		s.Open.Decrement()
		t = t.parent
	}
}

// IsLocalClosed - has a delete already been sent for t
func (s *Store) IsLocalClosed(t *State) bool {
	s.Lock()
	defer s.Unlock()
	return t.localClose
}

// IsClosed - delete observed in both directions
func (s *Store) IsClosed(t *State) bool {
	s.Lock()
	defer s.Unlock()
	return t.IsClosed()
}

// IsAborting - abort flag has been seen for t
func (s *Store) IsAborting(t *State) bool {
	s.Lock()
	defer s.Unlock()
	return t.aborting
}

// StatusOf - life cycle position, read under the lock
func (s *Store) StatusOf(t *State) Status {
	s.Lock()
	defer s.Unlock()
	return t.Status()
}

// SetCallback - attach the application continuation
//
// must be set before the next frame for the transaction can be routed
func (s *Store) SetCallback(t *State, callback Callback) {
	s.Lock()
	t.callback = callback
	s.Unlock()
}

// Deliver - invoke the application continuation for one frame
//
// the terminal claim is made under the lock so concurrent delivery
// paths cannot both see an unterminated record: terminal deliveries
// after the first are suppressed and no transaction ever observes two
// terminal callbacks.  the callback itself runs outside the lock
func (s *Store) Deliver(t *State, msg *wire.Message) {
	s.Lock()
	if t.terminated {
		s.Unlock()
		return
	}
	if msg.Header.IsDelete() || t.IsClosed() {
		t.terminated = true
	}
	callback := t.callback
	s.Unlock()

	if nil != callback {
		callback(t, msg)
	}
}

// ForceClose - mark both close flags and release in one step
//
// only used while tearing down a link, where no more frames can
// arrive to complete closure naturally
func (s *Store) ForceClose(t *State) {
	s.Lock()
	t.aborting = true
	t.localClose = true
	t.remoteClose = true
	s.releaseLocked(t)
	s.Unlock()
}

// Descendants - the still-open descendants of t, deepest first
//
// used for cascade abort: terminating in the returned order
// guarantees every child is dealt with before its parent, and the
// traversal cannot cycle because the circuit relation is a tree
func (s *Store) Descendants(t *State) []*State {
	s.Lock()
	defer s.Unlock()
	return appendDescendants(nil, t)
}

func appendDescendants(list []*State, t *State) []*State {
	for child := range t.children {
		list = appendDescendants(list, child)
		list = append(list, child)
	}
	return list
}

// AllOpen - every open transaction, deepest first
//
// the terminal sweep at link teardown
func (s *Store) AllOpen() []*State {
	return s.Descendants(s.root)
}

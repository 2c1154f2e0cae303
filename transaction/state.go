// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transaction

import (
	"github.com/spanlink/spanlinkd/wire"
)

// Status - the externally visible life cycle position
type Status int

// life cycle, in progression order
//
// aborting is an overlay on any non closed status, it only forces the
// path to closing/closed
const (
	StatusOpen    Status = iota // create observed from exactly one side
	StatusActive                // traffic has flowed both ways, no delete yet
	StatusClosing               // delete observed from exactly one side
	StatusClosed                // delete observed both ways, terminal
)

// Callback - application continuation for one transaction
//
// invoked once per received frame, strictly in order per transaction,
// and exactly once more with the terminal message; must not block the
// link reader for unbounded time
type Callback func(state *State, msg *wire.Message)

// State - one request/response exchange on a link
//
// all fields are guarded by the owning store's lock; external
// packages mutate a State only through its link's operations
type State struct {
	id         uint64
	circuitId  uint64
	peerIssued bool // id was allocated by the peer

	protocol wire.Protocol
	command  uint8 // base command from the create message

	localClose  bool // delete has been sent
	remoteClose bool // delete has been received
	aborting    bool // abort flag seen from either side
	accepted    bool // any frame received from the other side
	terminated  bool // terminal callback already delivered
	released    bool // record dropped from its index

	parent   *State
	children map[*State]struct{}

	callback Callback
}

// Id - the transaction id within its issuing namespace
func (t *State) Id() uint64 { return t.id }

// CircuitId - parent transaction id, 0 for a root transaction
func (t *State) CircuitId() uint64 { return t.circuitId }

// PeerIssued - true when the id was allocated by the peer
func (t *State) PeerIssued() bool { return t.peerIssued }

// Protocol - the dispatcher namespace the transaction belongs to
func (t *State) Protocol() wire.Protocol { return t.protocol }

// BaseCommand - base command carried on the create message
func (t *State) BaseCommand() uint8 { return t.command }

// Parent - the circuit parent, nil only for the root pseudo
// transaction
func (t *State) Parent() *State { return t.parent }

// IsRoot - detect the link's root pseudo transaction
func (t *State) IsRoot() bool { return nil == t.parent }

// Status - derive the life cycle position from the close flags
func (t *State) Status() Status {
	switch {
	case t.localClose && t.remoteClose:
		return StatusClosed
	case t.localClose || t.remoteClose:
		return StatusClosing
	case t.accepted:
		return StatusActive
	default:
		return StatusOpen
	}
}

// IsClosed - delete observed in both directions
func (t *State) IsClosed() bool { return t.localClose && t.remoteClose }

// IsAborting - abort flag has been seen
func (t *State) IsAborting() bool { return t.aborting }

func (m Status) String() string {
	switch m {
	case StatusOpen:
		return "Open"
	case StatusActive:
		return "Active"
	case StatusClosing:
		return "Closing"
	case StatusClosed:
		return "Closed"
	default:
		return "*Unknown*"
	}
}

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transaction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/transaction"
	"github.com/spanlink/spanlinkd/wire"
)

// closed requires delete to have been observed in both directions
func TestClosureRule(t *testing.T) {
	store := transaction.NewStore()

	tx, err := store.Create(nil, wire.ProtocolLink, 1, nil)
	assert.NoError(t, err)

	assert.Equal(t, transaction.StatusOpen, tx.Status())
	assert.False(t, tx.IsClosed())

	closed := store.MarkLocalClose(tx)
	assert.False(t, closed)
	assert.Equal(t, transaction.StatusClosing, tx.Status())

	closed = store.MarkRemoteClose(tx)
	assert.True(t, closed)
	assert.Equal(t, transaction.StatusClosed, tx.Status())
}

// the other half-close order gives the same result
func TestClosureRuleRemoteFirst(t *testing.T) {
	store := transaction.NewStore()

	tx, err := store.Attach(700, nil, wire.ProtocolFilesystem, 3)
	assert.NoError(t, err)
	assert.Equal(t, transaction.StatusActive, tx.Status())

	assert.False(t, store.MarkRemoteClose(tx))
	assert.Equal(t, transaction.StatusClosing, tx.Status())
	assert.True(t, store.MarkLocalClose(tx))
}

// ids are unique per direction index while open, and the same value
// may be open in both indexes at once
func TestDualIndex(t *testing.T) {
	store := transaction.NewStore()

	mine, err := store.Create(nil, wire.ProtocolLink, 1, nil)
	assert.NoError(t, err)

	// peer can issue the same numeric id without collision
	theirs, err := store.Attach(mine.Id(), nil, wire.ProtocolLink, 1)
	assert.NoError(t, err)
	assert.NotEqual(t, mine, theirs)

	// revtrans set selects the locally issued index
	found, err := store.Lookup(mine.Id(), true)
	assert.NoError(t, err)
	assert.Equal(t, mine, found)

	found, err = store.Lookup(mine.Id(), false)
	assert.NoError(t, err)
	assert.Equal(t, theirs, found)

	// a second create for an open peer id is a protocol violation
	_, err = store.Attach(mine.Id(), nil, wire.ProtocolLink, 1)
	assert.Equal(t, fault.CreateOnOpenTransaction, err)
	assert.True(t, fault.IsErrProtocol(err))
}

// a child cannot be created under a closed parent
func TestCreateUnderClosedParent(t *testing.T) {
	store := transaction.NewStore()

	parent, err := store.Create(nil, wire.ProtocolLink, 1, nil)
	assert.NoError(t, err)

	store.MarkLocalClose(parent)
	store.MarkRemoteClose(parent)

	_, err = store.Create(parent, wire.ProtocolLink, 2, nil)
	assert.Equal(t, fault.TransactionAlreadyClosed, err)
}

// release is blocked by open children, then bubbles up the circuit
// tree once the last child goes away
func TestReleaseBubbles(t *testing.T) {
	store := transaction.NewStore()

	parent, _ := store.Create(nil, wire.ProtocolLink, 1, nil)
	child, err := store.Create(parent, wire.ProtocolLink, 2, nil)
	assert.NoError(t, err)
	assert.Equal(t, parent.Id(), child.CircuitId())

	store.MarkLocalClose(parent)
	store.MarkRemoteClose(parent)
	store.Release(parent)

	// parent still findable: the child holds it
	found, err := store.Lookup(parent.Id(), true)
	assert.NoError(t, err)
	assert.Equal(t, parent, found)
	assert.Equal(t, uint64(2), store.Open.Uint64())

	store.MarkLocalClose(child)
	store.MarkRemoteClose(child)
	store.Release(child)

	_, err = store.Lookup(child.Id(), true)
	assert.Equal(t, fault.TransactionNotFound, err)
	_, err = store.Lookup(parent.Id(), true)
	assert.Equal(t, fault.TransactionNotFound, err)
	assert.True(t, store.Open.IsZero())
}

// descendants are listed deepest first so a cascade abort always
// terminates children before their parents
func TestDescendantsOrder(t *testing.T) {
	store := transaction.NewStore()

	a, _ := store.Create(nil, wire.ProtocolLink, 1, nil)
	b, _ := store.Create(a, wire.ProtocolLink, 2, nil)
	c, _ := store.Create(b, wire.ProtocolLink, 2, nil)
	d, _ := store.Create(b, wire.ProtocolLink, 2, nil)

	list := store.Descendants(a)
	assert.Len(t, list, 3)

	position := make(map[*transaction.State]int)
	for i, tx := range list {
		position[tx] = i
	}
	assert.Less(t, position[c], position[b])
	assert.Less(t, position[d], position[b])

	all := store.AllOpen()
	assert.Len(t, all, 4)
	assert.Equal(t, a, all[len(all)-1])
}

// terminal delivery happens exactly once even if a late synthetic
// abort follows a natural close
func TestSingleTerminalCallback(t *testing.T) {
	store := transaction.NewStore()

	terminals := 0
	tx, _ := store.Create(nil, wire.ProtocolBlockDevice, 1, func(state *transaction.State, msg *wire.Message) {
		if msg.Header.IsDelete() {
			terminals += 1
		}
	})

	reply := wire.NewMessage(wire.Command(1, wire.ProtocolBlockDevice, wire.FlagReply|wire.FlagDelete|wire.FlagRevTrans), nil)
	reply.Header.TransactionId = tx.Id()
	store.Deliver(tx, reply)

	synthetic := wire.NewMessage(wire.Command(1, wire.ProtocolBlockDevice, wire.FlagAbort|wire.FlagDelete|wire.FlagRevTrans), nil)
	synthetic.Header.TransactionId = tx.Id()
	synthetic.Header.ErrorCode = wire.ErrorCodeLinkLost
	store.Deliver(tx, synthetic)

	assert.Equal(t, 1, terminals)
}

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package link

import (
	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/transaction"
	"github.com/spanlink/spanlinkd/wire"
)

// the reader execution unit
//
// decodes one frame, resolves the transaction, applies the state
// transition and delivers the callback, all before touching the next
// frame: this is the whole of the per-transaction ordering guarantee
type readLoop struct {
	link *Link
}

// Run - background processing entry
func (r *readLoop) Run(args interface{}, shutdown <-chan struct{}) {
	l := r.link

loop:
	for {
		select {
		case <-shutdown:
			break loop
		case <-l.down:
			break loop
		default:
		}

		msg, err := wire.ReadMessage(l.transport)
		if nil != err {
			if !fault.IsErrFrame(err) {
				// io failure, including the close that follows
				// a deliberate teardown
				err = fault.LinkLost
			}
			l.fail(err)
			break loop
		}

		l.FramesIn.Increment()
		l.BytesIn.Add(uint64(wire.HeaderSize + len(msg.Payload)))

		if err := l.route(msg); nil != err {
			l.log.Errorf("route error: %s", err)
			l.fail(err)
			break loop
		}
	}
}

// route - apply one received frame to the transaction state
//
// any returned error is a protocol violation and fatal to the link:
// it means the peer's bookkeeping has diverged from the local view
func (l *Link) route(msg *wire.Message) error {
	header := &msg.Header

	if 0 == header.TransactionId {
		return fault.InvalidTransactionId
	}

	if header.IsCreate() && !header.IsRevTrans() {
		return l.routeCreate(msg)
	}
	return l.routeExisting(msg)
}

// routeCreate - the peer opened a new transaction
func (l *Link) routeCreate(msg *wire.Message) error {
	header := &msg.Header

	parent, err := l.store.LookupCircuit(header.CircuitId, header.IsRevCirc())
	if nil != err {
		return err
	}

	t, err := l.store.Attach(
		header.TransactionId,
		parent,
		wire.ProtocolOf(header.Command),
		wire.BaseCommand(header.Command),
	)
	if nil != err {
		return err
	}

	if header.IsAbort() {
		l.store.MarkAborting(t)
	}
	if header.IsDelete() {
		l.store.MarkRemoteClose(t)
	}

	dispatcher, ok := l.table[t.Protocol()]
	if !ok {
		// unsupported protocol: non-blocking rejection, the
		// transaction never becomes active and the link is fine
		return l.reject(t, wire.ErrorCodeUnsupported)
	}

	l.store.SetCallback(t, func(state *transaction.State, m *wire.Message) {
		dispatcher.Handle(l, state, m)
	})

	l.store.Deliver(t, msg)
	return nil
}

// routeExisting - a frame for an already open transaction
func (l *Link) routeExisting(msg *wire.Message) error {
	header := &msg.Header

	t, err := l.store.Lookup(header.TransactionId, header.IsRevTrans())
	if nil != err {
		if !header.IsCreate() && !header.IsDelete() {
			return fault.MissingCreateFlag
		}
		return err
	}

	// reply direction check: a reply can only come from the side
	// that did not issue the id
	if header.IsReply() && t.PeerIssued() {
		return fault.UnexpectedReplyFlag
	}

	l.store.MarkAccepted(t)

	if header.IsAbort() {
		l.store.MarkAborting(t)
		l.Aborts.Increment()
	}

	closed := false
	if header.IsDelete() {
		closed = l.store.MarkRemoteClose(t)
	}

	if closed {
		// a child cannot outlive its circuit: terminate every
		// still-open descendant before the closing frame itself
		// is delivered
		l.cascadeAbort(t)
	}

	// deliver before the next frame is read
	l.store.Deliver(t, msg)

	switch {
	case closed:
		// both deletes observed: hand to the writer to finalize
		l.reapState(t)

	case header.IsDelete():
		// peer half-closed: complete closure with our own delete
		// unless one is already queued
		l.acknowledgeClose(t)

	case header.IsAbort():
		// cancellation request without delete: answer so closure
		// can complete, the peer's half is already in flight
		l.acknowledgeClose(t)
	}

	return nil
}

// reject - refuse a peer create without ever accepting it
//
// abort combined with the (echoed) create flag tells the peer this id
// never became active; delete is our half of the closure
func (l *Link) reject(t *transaction.State, errorCode uint32) error {
	l.Lock()
	defer l.Unlock()

	flags := wire.FlagAbort | wire.FlagCreate | wire.FlagDelete | wire.FlagRevTrans

	msg := wire.NewMessage(wire.Command(t.BaseCommand(), t.Protocol(), flags), nil)
	msg.Header.TransactionId = t.Id()
	msg.Header.ErrorCode = errorCode

	return l.enqueue(msg)
}

// acknowledgeClose - queue our delete for a transaction the peer is
// closing or cancelling; a no-op when already half closed locally
func (l *Link) acknowledgeClose(t *transaction.State) {
	l.Lock()
	defer l.Unlock()

	if l.store.IsLocalClosed(t) {
		return
	}

	aborting := l.store.IsAborting(t)

	flags := wire.FlagDelete
	if aborting {
		flags |= wire.FlagAbort
	}
	if t.PeerIssued() {
		flags |= wire.FlagRevTrans
	}

	msg := wire.NewMessage(wire.Command(t.BaseCommand(), t.Protocol(), flags), nil)
	msg.Header.TransactionId = t.Id()
	if aborting {
		msg.Header.ErrorCode = wire.ErrorCodeCancelled
	}

	if err := l.enqueue(msg); nil != err {
		l.log.Errorf("close acknowledgement failed: %s", err)
	}
}

// reapState - pass a fully closed record to the writer, the only
// goroutine allowed to finalize
func (l *Link) reapState(t *transaction.State) {
	select {
	case l.reap <- t:
	case <-l.down:
	}
}

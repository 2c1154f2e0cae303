// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package link

import (
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/spanlink/spanlinkd/background"
	"github.com/spanlink/spanlinkd/counter"
	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/transaction"
	"github.com/spanlink/spanlinkd/wire"
)

// transmit queue depth
const queueSize = 1000

// one entry of the transmit queue
type queued struct {
	msg   *wire.Message
	state *transaction.State // nil for stateless frames
}

// Link - a live connection to one peer
type Link struct {
	sync.Mutex // serialises create/reply/result/abort

	log       *logger.L
	name      string
	transport Transport
	store     *transaction.Store
	table     DispatchTable

	out  chan queued
	reap chan *transaction.State

	down     chan struct{} // closed on terminal failure
	failOnce sync.Once
	failErr  error
	closing  bool // shutdown called, no new creates

	processes *background.T
	stopOnce  sync.Once

	// statistics
	FramesIn  counter.Counter
	FramesOut counter.Counter
	BytesIn   counter.Counter
	BytesOut  counter.Counter
	Aborts    counter.Counter
}

// Open - start a link over an established transport
//
// the reader and writer begin immediately; no transactions exist
// besides the root pseudo transaction
func Open(name string, transport Transport, table DispatchTable) *Link {

	l := &Link{
		log:       logger.New("link:" + name),
		name:      name,
		transport: transport,
		store:     transaction.NewStore(),
		table:     table,
		out:       make(chan queued, queueSize),
		reap:      make(chan *transaction.State, queueSize),
		down:      make(chan struct{}),
	}

	l.log.Info("starting…")

	l.processes = background.Start(background.Processes{
		&readLoop{link: l},
		&writeLoop{link: l},
	}, nil)

	return l
}

// Name - the label given at Open
func (l *Link) Name() string {
	return l.name
}

// Root - the pseudo transaction representing the link itself
func (l *Link) Root() *transaction.State {
	return l.store.Root()
}

// OpenTransactions - current number of open transactions
func (l *Link) OpenTransactions() uint64 {
	return l.store.Open.Uint64()
}

// Err - the terminal error, nil while the link is alive
func (l *Link) Err() error {
	select {
	case <-l.down:
		return l.failErr
	default:
		return nil
	}
}

// Done - closed once the link has reached its terminal state
func (l *Link) Done() <-chan struct{} {
	return l.down
}

// Create - allocate a transaction and build its create message
//
// the message is ready to send; extra flags (e.g. delete for a
// one-shot exchange) may be ored into the command word before Send.
// parent nil attaches to the root; a non-nil parent stacks the new
// transaction under its circuit
func (l *Link) Create(parent *transaction.State, protocol wire.Protocol, command uint8, payload []byte, callback transaction.Callback) (*wire.Message, *transaction.State, error) {
	l.Lock()
	defer l.Unlock()

	if nil != l.Err() {
		return nil, nil, fault.MessageOnClosedLink
	}
	if l.closing {
		return nil, nil, fault.CannotCreateOnClosing
	}

	t, err := l.store.Create(parent, protocol, command, callback)
	if nil != err {
		return nil, nil, err
	}

	flags := wire.FlagCreate
	if nil != parent && !parent.IsRoot() && parent.PeerIssued() {
		// the receiver issued the circuit id
		flags |= wire.FlagRevCirc
	}

	msg := wire.NewMessage(wire.Command(command, protocol, flags), payload)
	msg.Header.TransactionId = t.Id()
	msg.Header.CircuitId = t.CircuitId()

	return msg, t, nil
}

// IsClosed - have both deletes been observed for t
func (l *Link) IsClosed(t *transaction.State) bool {
	return l.store.IsClosed(t)
}

// Send - enqueue a message for transmission
//
// returns immediately; the queue is strictly fifo so frames leave in
// the order they were enqueued.  ownership of the message transfers
// to the link
func (l *Link) Send(msg *wire.Message) error {
	l.Lock()
	defer l.Unlock()
	return l.enqueue(msg)
}

// enqueue - internal send, caller holds the link lock
func (l *Link) enqueue(msg *wire.Message) error {

	if nil != l.Err() {
		return fault.MessageOnClosedLink
	}

	var state *transaction.State
	if 0 != msg.Header.TransactionId {
		// on send the revtrans flag means the id belongs to the
		// receiver, i.e. our peer index
		t, err := l.store.Lookup(msg.Header.TransactionId, !msg.Header.IsRevTrans())
		if nil != err {
			return err
		}
		state = t

		if msg.Header.IsDelete() {
			if l.store.IsLocalClosed(t) {
				return fault.TransactionAlreadyClosed
			}
			l.store.MarkLocalClose(t)
		}
		if msg.Header.IsAbort() {
			l.store.MarkAborting(t)
		}
	}

	select {
	case l.out <- queued{msg: msg, state: state}:
		return nil
	default:
		return fault.QueueOverflow
	}
}

// Reply - final response: marks local close, sends reply|delete
func (l *Link) Reply(t *transaction.State, errorCode uint32, payload []byte) error {
	return l.respond(t, wire.FlagReply|wire.FlagDelete, errorCode, payload)
}

// Result - intermediate response: reply only, transaction stays open
// for further messages
func (l *Link) Result(t *transaction.State, errorCode uint32, payload []byte) error {
	return l.respond(t, wire.FlagReply, errorCode, payload)
}

// Update - additional data on an open transaction
//
// usable from either side: no reply flag, so the creator can stream
// follow-on frames without violating the reply direction rule
func (l *Link) Update(t *transaction.State, payload []byte) error {
	return l.respond(t, 0, wire.ErrorCodeOK, payload)
}

// respond - build and enqueue a response frame for t
func (l *Link) respond(t *transaction.State, flags uint32, errorCode uint32, payload []byte) error {
	l.Lock()
	defer l.Unlock()

	if t.PeerIssued() {
		flags |= wire.FlagRevTrans
	}

	msg := wire.NewMessage(wire.Command(t.BaseCommand(), t.Protocol(), flags), payload)
	msg.Header.TransactionId = t.Id()
	msg.Header.ErrorCode = errorCode

	return l.enqueue(msg)
}

// Abort - request termination of a transaction
//
// advisory: the peer may have a normal reply in flight, so the caller
// must wait for the transaction's terminal callback before assuming
// anything is released.  aborting an already closing transaction is a
// no-op
func (l *Link) Abort(t *transaction.State) error {
	l.Lock()
	defer l.Unlock()

	if l.store.IsClosed(t) || l.store.IsLocalClosed(t) {
		return nil
	}

	l.Aborts.Increment()

	flags := wire.FlagAbort
	if transaction.StatusOpen == l.store.StatusOf(t) {
		// never accepted: abandon it entirely, delete included
		flags |= wire.FlagDelete
	}
	// else: cancellation request, the peer answers with its own
	// delete to complete closure

	if t.PeerIssued() {
		flags |= wire.FlagRevTrans
	}

	msg := wire.NewMessage(wire.Command(t.BaseCommand(), t.Protocol(), flags), nil)
	msg.Header.TransactionId = t.Id()
	msg.Header.ErrorCode = wire.ErrorCodeCancelled

	return l.enqueue(msg)
}

// Shutdown - stop accepting new transactions and drain
//
// existing transactions may complete; the link terminates as soon as
// the last one closes, or immediately if none are open.  a transport
// failure during the drain forcibly closes the remainder with a link
// lost error
func (l *Link) Shutdown() {
	l.Lock()
	l.closing = true
	none := l.store.Open.IsZero()
	l.Unlock()

	if none {
		l.fail(fault.LinkShuttingDown)
	}
}

// maybeFinishShutdown - terminate a draining link once empty
func (l *Link) maybeFinishShutdown() {
	l.Lock()
	done := l.closing && l.store.Open.IsZero()
	l.Unlock()

	if done {
		l.fail(fault.LinkShuttingDown)
	}
}

// cascadeAbort - terminate every still-open descendant of a closed
// transaction
//
// a child cannot outlive its circuit: each descendant, deepest first,
// receives a synthesized abort|delete terminal with a cancelled error
// and is force closed, so the closed record can be released.  the
// peer runs the same cascade when it observes the closure, no frames
// are exchanged for the descendants
func (l *Link) cascadeAbort(t *transaction.State) {
	for _, d := range l.store.Descendants(t) {
		msg := wire.NewMessage(
			wire.Command(d.BaseCommand(), d.Protocol(), wire.FlagAbort|wire.FlagDelete),
			nil)
		msg.Header.TransactionId = d.Id()
		msg.Header.ErrorCode = wire.ErrorCodeCancelled

		l.store.Deliver(d, msg)
		l.store.ForceClose(d)
	}
}

// Destroy - forcibly terminate the link and wait for its processes
func (l *Link) Destroy() {
	l.fail(fault.LinkLost)
	l.stopOnce.Do(func() {
		l.processes.Stop()
	})
}

// fail - enter the terminal state, exactly once
//
// closes the transport to unblock both loops, then walks every still
// open transaction deepest first, synthesizing an abort|delete frame
// with a link lost error so each receives its terminal callback
// before the link object becomes unusable
func (l *Link) fail(err error) {
	l.failOnce.Do(func() {
		l.failErr = err
		close(l.down)
		_ = l.transport.Close()

		errorCode := wire.ErrorCodeLinkLost
		if fault.LinkShuttingDown == err {
			errorCode = wire.ErrorCodeCancelled
		}

		open := l.store.AllOpen()
		for _, t := range open {
			msg := wire.NewMessage(
				wire.Command(t.BaseCommand(), t.Protocol(), wire.FlagAbort|wire.FlagDelete),
				nil)
			msg.Header.TransactionId = t.Id()
			msg.Header.ErrorCode = errorCode

			l.store.Deliver(t, msg)
			l.store.ForceClose(t)
		}

		if len(open) > 0 {
			l.log.Warnf("terminated with %d open transactions: %s", len(open), err)
		} else {
			l.log.Infof("terminated: %s", err)
		}
	})
}

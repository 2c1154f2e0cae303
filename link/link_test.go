// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package link_test

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/fixtures"
	"github.com/spanlink/spanlinkd/link"
	"github.com/spanlink/spanlinkd/transaction"
	"github.com/spanlink/spanlinkd/wire"
)

const (
	commandRead  uint8 = 1
	commandWatch uint8 = 2

	testTimeout = 5 * time.Second
)

func TestMain(m *testing.M) {
	fixtures.SetupTestLogger()
	rc := m.Run()
	fixtures.TeardownTestLogger()
	os.Exit(rc)
}

// one delivered callback, as observed by a test
type event struct {
	state *transaction.State
	msg   *wire.Message
}

// collector - buffers callback deliveries for later assertions
func collector() (transaction.Callback, chan event) {
	ch := make(chan event, 32)
	return func(state *transaction.State, msg *wire.Message) {
		ch <- event{state: state, msg: msg}
	}, ch
}

// dispatchCollector - same for a dispatch table entry
func dispatchCollector() (link.DispatcherFunc, chan event) {
	ch := make(chan event, 32)
	return func(l *link.Link, state *transaction.State, msg *wire.Message) {
		ch <- event{state: state, msg: msg}
	}, ch
}

func waitEvent(t *testing.T, ch chan event) event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for callback")
		return event{}
	}
}

func waitDone(t *testing.T, l *link.Link) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for link termination")
	}
}

// waitDrained - poll until no transactions remain open
func waitDrained(t *testing.T, l *link.Link) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for 0 != l.OpenTransactions() {
		if time.Now().After(deadline) {
			t.Fatalf("link %q still has %d open transactions", l.Name(), l.OpenTransactions())
		}
		time.Sleep(time.Millisecond)
	}
}

// linkPair - two links joined by an in-memory stream
func linkPair(tableA link.DispatchTable, tableB link.DispatchTable) (*link.Link, *link.Link) {
	connA, connB := net.Pipe()
	a := link.Open("a", connA, tableA)
	b := link.Open("b", connB, tableB)
	return a, b
}

func TestRequestReplyClosure(t *testing.T) {

	handler, serverEvents := dispatchCollector()
	a, b := linkPair(nil, link.DispatchTable{wire.ProtocolShell: handler})
	defer a.Destroy()
	defer b.Destroy()

	callback, clientEvents := collector()

	msg, tx, err := a.Create(nil, wire.ProtocolShell, commandRead, []byte("uptime"), callback)
	assert.Nil(t, err, "create error")
	assert.False(t, tx.IsRoot(), "transaction parented to root pseudo")
	assert.Equal(t, uint64(0), tx.CircuitId(), "root transaction circuit id")

	err = a.Send(msg)
	assert.Nil(t, err, "send error")

	// server sees the create and answers
	ev := waitEvent(t, serverEvents)
	assert.True(t, ev.msg.Header.IsCreate(), "expected create flag")
	assert.Equal(t, []byte("uptime"), ev.msg.Payload, "request payload")
	assert.Equal(t, commandRead, ev.state.BaseCommand(), "base command")
	assert.True(t, ev.state.PeerIssued(), "server side id ownership")

	err = b.Reply(ev.state, wire.ErrorCodeOK, []byte("up 3 days"))
	assert.Nil(t, err, "reply error")

	// client terminal: reply and delete on one frame
	ev = waitEvent(t, clientEvents)
	assert.True(t, ev.msg.Header.IsReply(), "expected reply flag")
	assert.True(t, ev.msg.Header.IsDelete(), "expected delete flag")
	assert.Equal(t, wire.ErrorCodeOK, ev.msg.Header.ErrorCode, "error code")
	assert.Equal(t, []byte("up 3 days"), ev.msg.Payload, "response payload")

	// server terminal: the automatic closure acknowledgement
	ev = waitEvent(t, serverEvents)
	assert.True(t, ev.msg.Header.IsDelete(), "expected delete flag")
	assert.False(t, ev.msg.Header.IsAbort(), "unexpected abort flag")

	// both sides fully released
	waitDrained(t, a)
	waitDrained(t, b)
	assert.Equal(t, transaction.StatusClosed, tx.Status(), "client status")
}

func TestAbortBeforeReply(t *testing.T) {

	handler, serverEvents := dispatchCollector()
	a, b := linkPair(nil, link.DispatchTable{wire.ProtocolShell: handler})
	defer a.Destroy()
	defer b.Destroy()

	callback, clientEvents := collector()

	msg, tx, err := a.Create(nil, wire.ProtocolShell, commandWatch, nil, callback)
	assert.Nil(t, err, "create error")
	assert.Nil(t, a.Send(msg), "send error")

	ev := waitEvent(t, serverEvents)
	assert.True(t, ev.msg.Header.IsCreate(), "expected create flag")

	// server never replies; client gives up
	err = a.Abort(tx)
	assert.Nil(t, err, "abort error")

	// server terminal carries abort and delete together
	ev = waitEvent(t, serverEvents)
	assert.True(t, ev.msg.Header.IsAbort(), "expected abort flag")
	assert.True(t, ev.msg.Header.IsDelete(), "expected delete flag")
	assert.True(t, ev.state.IsAborting(), "server aborting flag")

	// client terminal is the server's acknowledgement
	ev = waitEvent(t, clientEvents)
	assert.True(t, ev.msg.Header.IsDelete(), "expected delete flag")
	assert.True(t, ev.msg.Header.IsAbort(), "expected abort flag")
	assert.Equal(t, wire.ErrorCodeCancelled, ev.msg.Header.ErrorCode, "error code")

	waitDrained(t, a)
	waitDrained(t, b)

	// aborting an already closed transaction is harmless
	assert.Nil(t, a.Abort(tx), "second abort")
}

func TestStackedTransactions(t *testing.T) {

	handler, serverEvents := dispatchCollector()
	a, b := linkPair(nil, link.DispatchTable{wire.ProtocolShell: handler})
	defer a.Destroy()
	defer b.Destroy()

	parentCallback, parentEvents := collector()

	msg, parent, err := a.Create(nil, wire.ProtocolShell, commandWatch, nil, parentCallback)
	assert.Nil(t, err, "parent create error")
	assert.Nil(t, a.Send(msg), "parent send error")

	ev := waitEvent(t, serverEvents)
	assert.Nil(t, b.Result(ev.state, wire.ErrorCodeOK, []byte("ready")), "result error")

	// intermediate result leaves the transaction open
	ev = waitEvent(t, parentEvents)
	assert.True(t, ev.msg.Header.IsReply(), "expected reply flag")
	assert.False(t, ev.msg.Header.IsDelete(), "unexpected delete flag")
	assert.Equal(t, transaction.StatusActive, parent.Status(), "parent status")

	childCallback, childEvents := collector()

	msg, child, err := a.Create(parent, wire.ProtocolShell, commandRead, []byte("df"), childCallback)
	assert.Nil(t, err, "child create error")
	assert.Equal(t, parent.Id(), child.CircuitId(), "child circuit id")
	assert.Nil(t, a.Send(msg), "child send error")

	ev = waitEvent(t, serverEvents)
	assert.True(t, ev.msg.Header.IsCreate(), "expected create flag")
	assert.Equal(t, []byte("df"), ev.msg.Payload, "child payload")
	assert.False(t, ev.state.Parent().IsRoot(), "child stacked under parent")

	assert.Nil(t, b.Reply(ev.state, wire.ErrorCodeOK, nil), "child reply error")

	ev = waitEvent(t, childEvents)
	assert.True(t, ev.msg.Header.IsDelete(), "expected child delete flag")

	// a closed child must not block closing the parent
	assert.Nil(t, a.Abort(parent), "parent abort error")
	ev = waitEvent(t, parentEvents)
	assert.True(t, ev.msg.Header.IsDelete(), "expected parent delete flag")

	waitDrained(t, a)
	waitDrained(t, b)
}

func TestParentCloseAbortsChildren(t *testing.T) {

	handler, serverEvents := dispatchCollector()
	a, b := linkPair(nil, link.DispatchTable{wire.ProtocolShell: handler})
	defer a.Destroy()
	defer b.Destroy()

	parentCallback, parentEvents := collector()

	msg, parent, err := a.Create(nil, wire.ProtocolShell, commandWatch, nil, parentCallback)
	assert.Nil(t, err, "parent create error")
	assert.Nil(t, a.Send(msg), "parent send error")

	serverParent := waitEvent(t, serverEvents)
	assert.Nil(t, b.Result(serverParent.state, wire.ErrorCodeOK, nil), "result error")
	waitEvent(t, parentEvents)

	childCallback, childEvents := collector()

	msg, child, err := a.Create(parent, wire.ProtocolShell, commandWatch, nil, childCallback)
	assert.Nil(t, err, "child create error")
	assert.Nil(t, a.Send(msg), "child send error")
	waitEvent(t, serverEvents)

	// the peer closes the parent while the child is still open
	assert.Nil(t, b.Reply(serverParent.state, wire.ErrorCodeOK, nil), "parent reply error")

	ev := waitEvent(t, parentEvents)
	assert.True(t, ev.msg.Header.IsDelete(), "expected parent delete flag")

	// the child cannot outlive its circuit: it terminates with a
	// synthesized abort
	ev = waitEvent(t, childEvents)
	assert.True(t, ev.msg.Header.IsAbort(), "expected child abort flag")
	assert.True(t, ev.msg.Header.IsDelete(), "expected child delete flag")
	assert.Equal(t, wire.ErrorCodeCancelled, ev.msg.Header.ErrorCode, "child error code")
	assert.Equal(t, parent.Id(), child.CircuitId(), "child circuit id")

	waitDrained(t, a)
	waitDrained(t, b)

	// exactly one terminal for the child
	select {
	case ev = <-childEvents:
		t.Fatalf("second child callback: flags 0x%08x", ev.msg.Header.Command)
	default:
	}

	// cascade is local bookkeeping, the link itself stays healthy
	assert.Nil(t, a.Err(), "link error after cascade")
	assert.Nil(t, b.Err(), "server link error after cascade")
}

func TestCreateOnClosedParent(t *testing.T) {

	handler, serverEvents := dispatchCollector()
	a, b := linkPair(nil, link.DispatchTable{wire.ProtocolShell: handler})
	defer a.Destroy()
	defer b.Destroy()

	callback, clientEvents := collector()

	msg, parent, err := a.Create(nil, wire.ProtocolShell, commandRead, nil, callback)
	assert.Nil(t, err, "create error")
	assert.Nil(t, a.Send(msg), "send error")

	ev := waitEvent(t, serverEvents)
	assert.Nil(t, b.Reply(ev.state, wire.ErrorCodeOK, nil), "reply error")
	waitEvent(t, clientEvents)
	waitEvent(t, serverEvents) // closure acknowledgement
	waitDrained(t, a)

	_, _, err = a.Create(parent, wire.ProtocolShell, commandRead, nil, callback)
	assert.Equal(t, fault.TransactionAlreadyClosed, err, "create on closed parent")
}

func TestUnsupportedProtocolRejected(t *testing.T) {

	// server has no filesystem dispatcher
	handler, _ := dispatchCollector()
	a, b := linkPair(nil, link.DispatchTable{wire.ProtocolShell: handler})
	defer a.Destroy()
	defer b.Destroy()

	callback, clientEvents := collector()

	msg, _, err := a.Create(nil, wire.ProtocolFilesystem, commandRead, nil, callback)
	assert.Nil(t, err, "create error")
	assert.Nil(t, a.Send(msg), "send error")

	ev := waitEvent(t, clientEvents)
	assert.True(t, ev.msg.Header.IsAbort(), "expected abort flag")
	assert.True(t, ev.msg.Header.IsDelete(), "expected delete flag")
	assert.Equal(t, wire.ErrorCodeUnsupported, ev.msg.Header.ErrorCode, "error code")

	// a rejected create is not fatal to the link
	assert.Nil(t, a.Err(), "link error after rejection")
	assert.Nil(t, b.Err(), "server link error after rejection")

	waitDrained(t, a)
	waitDrained(t, b)
}

func TestLinkLostCascade(t *testing.T) {

	handler, serverEvents := dispatchCollector()
	a, b := linkPair(nil, link.DispatchTable{wire.ProtocolShell: handler})
	defer a.Destroy()

	parentCallback, parentEvents := collector()

	msg, parent, err := a.Create(nil, wire.ProtocolShell, commandWatch, nil, parentCallback)
	assert.Nil(t, err, "parent create error")
	assert.Nil(t, a.Send(msg), "parent send error")

	ev := waitEvent(t, serverEvents)
	assert.Nil(t, b.Result(ev.state, wire.ErrorCodeOK, nil), "result error")
	waitEvent(t, parentEvents)

	childCallback, childEvents := collector()

	msg, _, err = a.Create(parent, wire.ProtocolShell, commandWatch, nil, childCallback)
	assert.Nil(t, err, "child create error")
	assert.Nil(t, a.Send(msg), "child send error")
	waitEvent(t, serverEvents)

	// transport drops with both transactions open
	b.Destroy()
	waitDone(t, a)
	assert.Equal(t, fault.LinkLost, a.Err(), "terminal link error")

	// deepest first: the child terminates before its parent
	ev = waitEvent(t, childEvents)
	assert.True(t, ev.msg.Header.IsAbort(), "expected child abort flag")
	assert.True(t, ev.msg.Header.IsDelete(), "expected child delete flag")
	assert.Equal(t, wire.ErrorCodeLinkLost, ev.msg.Header.ErrorCode, "child error code")

	ev = waitEvent(t, parentEvents)
	assert.True(t, ev.msg.Header.IsDelete(), "expected parent delete flag")
	assert.Equal(t, wire.ErrorCodeLinkLost, ev.msg.Header.ErrorCode, "parent error code")
	assert.Equal(t, transaction.StatusClosed, parent.Status(), "parent status")

	// operations after the failure report it
	_, _, err = a.Create(nil, wire.ProtocolShell, commandRead, nil, parentCallback)
	assert.Equal(t, fault.MessageOnClosedLink, err, "create after failure")
}

func TestDestroyDuringTraffic(t *testing.T) {

	handler, serverEvents := dispatchCollector()
	a, b := linkPair(nil, link.DispatchTable{wire.ProtocolShell: handler})
	defer a.Destroy()
	defer b.Destroy()

	const transactions = 8

	events := make(chan event, 256)
	states := make([]*transaction.State, 0, transactions)
	for i := 0; i < transactions; i += 1 {
		msg, tx, err := a.Create(nil, wire.ProtocolShell, commandWatch, nil,
			func(state *transaction.State, m *wire.Message) {
				events <- event{state: state, msg: m}
			})
		assert.Nil(t, err, "create error")
		assert.Nil(t, a.Send(msg), "send error")
		states = append(states, tx)
	}

	// the server streams results while the client tears down
	stop := make(chan struct{})
	go func() {
		defer close(stop)
		for {
			select {
			case ev := <-serverEvents:
				if ev.msg.Header.IsDelete() {
					continue
				}
				for j := 0; j < 20; j += 1 {
					if nil != b.Result(ev.state, wire.ErrorCodeOK, nil) {
						return
					}
				}
			case <-b.Done():
				return
			case <-time.After(testTimeout):
				return
			}
		}
	}()

	time.Sleep(5 * time.Millisecond)
	a.Destroy()
	<-stop
	waitDone(t, a)

	// one terminal per transaction despite delivery racing the
	// teardown
	terminals := make(map[uint64]int)
drain:
	for {
		select {
		case ev := <-events:
			if ev.msg.Header.IsDelete() {
				terminals[ev.state.Id()] += 1
			}
		case <-time.After(100 * time.Millisecond):
			break drain
		}
	}
	for _, tx := range states {
		assert.Equal(t, 1, terminals[tx.Id()], "terminal count for: %d", tx.Id())
	}
	assert.Equal(t, uint64(0), a.OpenTransactions(), "open transactions")
}

func TestCorruptStreamTerminates(t *testing.T) {

	connA, connB := net.Pipe()
	a := link.Open("corrupt", connA, nil)
	defer a.Destroy()
	defer connB.Close()

	garbage := make([]byte, wire.HeaderSize)
	for i := 0; i < len(garbage); i += 1 {
		garbage[i] = 0x5a
	}

	go func() { _, _ = connB.Write(garbage) }()

	waitDone(t, a)
	assert.Equal(t, fault.InvalidMagic, a.Err(), "terminal link error")
}

func TestPerTransactionOrdering(t *testing.T) {

	const results = 8

	server := link.DispatcherFunc(func(l *link.Link, state *transaction.State, msg *wire.Message) {
		if !msg.Header.IsCreate() {
			return
		}
		for i := 0; i < results; i += 1 {
			_ = l.Result(state, wire.ErrorCodeOK, []byte{byte(i)})
		}
		_ = l.Reply(state, wire.ErrorCodeOK, []byte{results})
	})

	a, b := linkPair(nil, link.DispatchTable{wire.ProtocolShell: server})
	defer a.Destroy()
	defer b.Destroy()

	callback, clientEvents := collector()

	msg, _, err := a.Create(nil, wire.ProtocolShell, commandWatch, nil, callback)
	assert.Nil(t, err, "create error")
	assert.Nil(t, a.Send(msg), "send error")

	for i := 0; i <= results; i += 1 {
		ev := waitEvent(t, clientEvents)
		assert.Equal(t, byte(i), ev.msg.Payload[0], "result sequence")
		if i < results {
			assert.False(t, ev.msg.Header.IsDelete(), "premature delete flag")
		} else {
			assert.True(t, ev.msg.Header.IsDelete(), "missing final delete flag")
		}
	}

	waitDrained(t, a)
	waitDrained(t, b)
}

func TestShutdownImmediate(t *testing.T) {

	a, b := linkPair(nil, nil)
	defer b.Destroy()

	a.Shutdown()
	waitDone(t, a)
	assert.Equal(t, fault.LinkShuttingDown, a.Err(), "terminal link error")

	callback, _ := collector()
	_, _, err := a.Create(nil, wire.ProtocolShell, commandRead, nil, callback)
	assert.Equal(t, fault.MessageOnClosedLink, err, "create after shutdown")
	a.Destroy()
}

func TestShutdownDrains(t *testing.T) {

	handler, serverEvents := dispatchCollector()
	a, b := linkPair(nil, link.DispatchTable{wire.ProtocolShell: handler})
	defer b.Destroy()

	callback, clientEvents := collector()

	msg, _, err := a.Create(nil, wire.ProtocolShell, commandRead, nil, callback)
	assert.Nil(t, err, "create error")
	assert.Nil(t, a.Send(msg), "send error")

	a.Shutdown()

	// new work is refused while draining
	_, _, err = a.Create(nil, wire.ProtocolShell, commandRead, nil, callback)
	assert.Equal(t, fault.CannotCreateOnClosing, err, "create while draining")

	// the open transaction still completes normally
	ev := waitEvent(t, serverEvents)
	assert.Nil(t, b.Reply(ev.state, wire.ErrorCodeOK, []byte("late")), "reply error")

	ev = waitEvent(t, clientEvents)
	assert.Equal(t, []byte("late"), ev.msg.Payload, "response payload")

	waitDone(t, a)
	assert.Equal(t, fault.LinkShuttingDown, a.Err(), "terminal link error")
	a.Destroy()
}

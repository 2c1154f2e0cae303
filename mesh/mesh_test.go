// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh_test

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spanlink/spanlinkd/fixtures"
	"github.com/spanlink/spanlinkd/link"
	"github.com/spanlink/spanlinkd/mesh"
	"github.com/spanlink/spanlinkd/mode"
	"github.com/spanlink/spanlinkd/transaction"
	"github.com/spanlink/spanlinkd/util"
	"github.com/spanlink/spanlinkd/wire"
)

const testTimeout = 5 * time.Second

var selfFingerprint = util.Fingerprint([]byte("self certificate"))
var farFingerprint = util.Fingerprint([]byte("far certificate"))

func TestMain(m *testing.M) {
	fixtures.SetupTestLogger()

	_ = mode.Initialise()
	err := mesh.Initialise(&mesh.Parameters{
		Name:           "self",
		Address:        "127.0.0.1:2136",
		Fingerprint:    selfFingerprint,
		Services:       []string{"storage"},
		NodesDomain:    "",
		CacheDirectory: "testing",
	})
	if nil != err {
		fixtures.TeardownTestLogger()
		os.Exit(1)
	}

	rc := m.Run()

	_ = mesh.Finalise()
	_ = mode.Finalise()
	fixtures.TeardownTestLogger()
	os.Exit(rc)
}

type farEvent struct {
	state *transaction.State
	msg   *wire.Message
}

// waitService - poll the service table until presence matches want
func waitService(t *testing.T, service string, want bool) mesh.ServiceInfo {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		var found *mesh.ServiceInfo
		for _, info := range mesh.Services() {
			if info.Service == service {
				i := info
				found = &i
				break
			}
		}
		if want && nil != found {
			return *found
		}
		if !want && nil == found {
			return mesh.ServiceInfo{}
		}
		if time.Now().After(deadline) {
			t.Fatalf("service %q presence != %v", service, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionAndSpans(t *testing.T) {

	connNear, connFar := net.Pipe()

	near := link.Open("peer0", connNear, link.DispatchTable{
		wire.ProtocolLink: mesh.Dispatcher(),
	})

	farEvents := make(chan farEvent, 32)
	far := link.Open("far", connFar, link.DispatchTable{
		wire.ProtocolLink: link.DispatcherFunc(
			func(l *link.Link, state *transaction.State, msg *wire.Message) {
				farEvents <- farEvent{state: state, msg: msg}
			}),
	})
	defer far.Destroy()

	assert.Nil(t, mesh.AddLink(near), "add link error")

	// the far side sees our session create
	ev := waitFarEvent(t, farEvents)
	assert.True(t, ev.msg.Header.IsCreate(), "expected create flag")
	assert.Equal(t, mesh.CommandConn, ev.state.BaseCommand(), "base command")

	d, err := mesh.UnpackConnDescriptor(ev.msg.Payload)
	assert.Nil(t, err, "conn descriptor error")
	assert.Equal(t, uint32(mesh.Version), d.Version, "announced version")
	assert.Equal(t, mesh.PeerTypeNode, d.PeerType, "announced peer type")
	assert.Equal(t, mesh.CapabilityRelay, d.Capabilities&mesh.CapabilityRelay, "announced capabilities")
	assert.Equal(t, "self", d.Name, "announced name")
	assert.Equal(t, "127.0.0.1:2136", d.Address, "announced address")

	// accept, announcing the far node's own identity
	farDescriptor := &mesh.ConnDescriptor{
		Version:      mesh.Version,
		PeerType:     mesh.PeerTypeNode,
		Capabilities: mesh.CapabilityRelay,
		Name:         "far",
		Address:      "203.0.113.9:2136",
		Fingerprint:  farFingerprint,
	}
	payload, err := farDescriptor.Pack()
	assert.Nil(t, err, "pack error")
	assert.Nil(t, far.Result(ev.state, wire.ErrorCodeOK, payload), "accept error")

	// our local service is advertised to the new link
	ev = waitFarEvent(t, farEvents)
	assert.True(t, ev.msg.Header.IsCreate(), "expected create flag")
	assert.Equal(t, mesh.CommandSpan, ev.state.BaseCommand(), "base command")

	span, err := mesh.UnpackSpanDescriptor(ev.msg.Payload)
	assert.Nil(t, err, "span descriptor error")
	assert.Equal(t, "storage", span.Service, "advertised service")
	assert.Equal(t, uint32(0), span.Distance, "advertised distance")
	assert.Equal(t, selfFingerprint, span.Origin, "advertised origin")
	assert.Nil(t, far.Result(ev.state, wire.ErrorCodeOK, nil), "span ack error")

	// the far side opens its own session
	connReplies := make(chan *wire.Message, 8)
	msg, farConn, err := far.Create(nil, wire.ProtocolLink, mesh.CommandConn, payload,
		func(state *transaction.State, m *wire.Message) {
			connReplies <- m
		})
	assert.Nil(t, err, "far conn create error")
	assert.Nil(t, far.Send(msg), "far conn send error")

	reply := waitMessage(t, connReplies)
	assert.True(t, reply.Header.IsReply(), "expected reply flag")
	assert.False(t, reply.Header.IsDelete(), "session must stay open")

	// acceptance payload is our descriptor
	d, err = mesh.UnpackConnDescriptor(reply.Payload)
	assert.Nil(t, err, "acceptance descriptor error")
	assert.Equal(t, "self", d.Name, "acceptance name")

	// the learned endpoint is dialable now
	found := false
	for _, p := range mesh.Peers() {
		if "203.0.113.9:2136" == p.Address {
			found = true
			assert.Equal(t, farFingerprint, p.Fingerprint, "peer fingerprint")
		}
	}
	assert.True(t, found, "missing learned peer")

	// a remote advertisement arrives under the far session
	remote := &mesh.SpanDescriptor{
		Service:  "files",
		PeerType: mesh.PeerTypeNode,
		Origin:   farFingerprint,
		Distance: 0,
	}
	payload, err = remote.Pack()
	assert.Nil(t, err, "pack error")

	spanReplies := make(chan *wire.Message, 8)
	msg, farSpan, err := far.Create(farConn, wire.ProtocolLink, mesh.CommandSpan, payload,
		func(state *transaction.State, m *wire.Message) {
			spanReplies <- m
		})
	assert.Nil(t, err, "far span create error")
	assert.Nil(t, far.Send(msg), "far span send error")

	reply = waitMessage(t, spanReplies)
	assert.True(t, reply.Header.IsReply(), "expected span ack")
	assert.Equal(t, wire.ErrorCodeOK, reply.Header.ErrorCode, "span ack code")

	info := waitService(t, "files", true)
	assert.Equal(t, uint32(1), info.Distance, "learned distance")
	assert.Equal(t, "peer0", info.Via, "learned via")

	// explicit withdrawal removes it
	assert.Nil(t, far.Abort(farSpan), "withdraw error")
	waitService(t, "files", false)

	// the session dying withdraws everything learned from the link
	payload, _ = remote.Pack()
	msg, _, err = far.Create(farConn, wire.ProtocolLink, mesh.CommandSpan, payload,
		func(state *transaction.State, m *wire.Message) {})
	assert.Nil(t, err, "far span create error")
	assert.Nil(t, far.Send(msg), "far span send error")
	waitService(t, "files", true)

	far.Destroy()
	waitService(t, "files", false)

	deadline := time.Now().Add(testTimeout)
	for mode.IsNot(mode.Connecting) {
		if time.Now().After(deadline) {
			t.Fatal("mode did not fall back to connecting")
		}
		time.Sleep(10 * time.Millisecond)
	}

	near.Destroy()
}

func TestSessionVersionMismatch(t *testing.T) {

	connNear, connFar := net.Pipe()

	near := link.Open("peer1", connNear, link.DispatchTable{
		wire.ProtocolLink: mesh.Dispatcher(),
	})
	defer near.Destroy()

	far := link.Open("far1", connFar, nil)
	defer far.Destroy()

	// a peer announcing a different protocol version must be refused
	stale := &mesh.ConnDescriptor{
		Version:      mesh.Version + 1,
		PeerType:     mesh.PeerTypeNode,
		Capabilities: mesh.CapabilityRelay,
		Name:         "stale",
		Address:      "203.0.113.10:2136",
		Fingerprint:  farFingerprint,
	}
	payload, err := stale.Pack()
	assert.Nil(t, err, "pack error")

	replies := make(chan *wire.Message, 8)
	msg, _, err := far.Create(nil, wire.ProtocolLink, mesh.CommandConn, payload,
		func(state *transaction.State, m *wire.Message) {
			replies <- m
		})
	assert.Nil(t, err, "conn create error")
	assert.Nil(t, far.Send(msg), "conn send error")

	reply := waitMessage(t, replies)
	assert.True(t, reply.Header.IsReply(), "expected reply flag")
	assert.True(t, reply.Header.IsDelete(), "session must be refused")
	assert.Equal(t, wire.ErrorCodeUnsupported, reply.Header.ErrorCode, "refusal code")
}

func TestPing(t *testing.T) {

	connNear, connFar := net.Pipe()

	near := link.Open("pingpeer", connNear, link.DispatchTable{
		wire.ProtocolLink: mesh.Dispatcher(),
	})
	defer near.Destroy()

	far := link.Open("pingfar", connFar, nil)
	defer far.Destroy()

	rtt, err := mesh.Ping(far, testTimeout)
	assert.Nil(t, err, "ping error")
	assert.True(t, rtt > 0, "round trip time")
}

func waitFarEvent(t *testing.T, ch chan farEvent) farEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for event")
		return farEvent{}
	}
}

func waitMessage(t *testing.T, ch chan *wire.Message) *wire.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh

import (
	"github.com/spanlink/spanlinkd/link"
	"github.com/spanlink/spanlinkd/mode"
	"github.com/spanlink/spanlinkd/transaction"
	"github.com/spanlink/spanlinkd/wire"
)

// Dispatcher - the handler to register for the link control protocol
func Dispatcher() link.Dispatcher {
	return link.DispatcherFunc(handleLink)
}

// handleLink - inbound link control traffic
//
// runs on the link reader; must not block
func handleLink(l *link.Link, t *transaction.State, msg *wire.Message) {

	header := &msg.Header

	if header.IsCreate() {
		switch t.BaseCommand() {
		case CommandPing:
			// echo, nothing to retain
			_ = l.Reply(t, wire.ErrorCodeOK, msg.Payload)

		case CommandConn:
			remoteConnCreate(l, t, msg)

		case CommandSpan:
			remoteSpanCreate(l, t, msg)

		default:
			_ = l.Reply(t, wire.ErrorCodeUnsupported, nil)
		}
		return
	}

	if header.IsDelete() {
		switch t.BaseCommand() {
		case CommandConn:
			removeLink(l.Name())

		case CommandSpan:
			remoteSpanClosed(t)
		}
		return
	}

	// intermediate frame: a span keep-alive restarts its expiry
	if CommandSpan == t.BaseCommand() {
		remoteSpanRefresh(t)
	}
}

// remoteConnCreate - the peer opened its session
func remoteConnCreate(l *link.Link, t *transaction.State, msg *wire.Message) {

	d, err := UnpackConnDescriptor(msg.Payload)
	if nil != err {
		_ = l.Reply(t, wire.ErrorCodeUnsupported, nil)
		return
	}

	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		_ = l.Reply(t, wire.ErrorCodeCancelled, nil)
		return
	}

	if Version != d.Version {
		globalData.log.Warnf("refused session from: %s  version: %d", l.Name(), d.Version)
		_ = l.Reply(t, wire.ErrorCodeUnsupported, nil)
		return
	}
	if PeerTypeNode != d.PeerType && PeerTypeClient != d.PeerType {
		globalData.log.Warnf("refused session from: %s  peer type: %d", l.Name(), d.PeerType)
		_ = l.Reply(t, wire.ErrorCodeUnsupported, nil)
		return
	}

	s, ok := globalData.sessions[l.Name()]
	if !ok {
		// the peer's session arrived before AddLink
		s = newSession(l)
		globalData.sessions[l.Name()] = s
	}
	s.remote = d
	s.remoteConn = t
	addPeer(d.Address, d.Fingerprint)

	globalData.log.Infof("session from: %s (%s) on: %s", d.Name, d.Address, l.Name())

	payload, err := globalData.self.Pack()
	if nil != err {
		payload = nil
	}
	_ = l.Result(t, wire.ErrorCodeOK, payload)

	mode.Set(mode.Normal)
	reconcile()
}

// remoteSpanCreate - the peer advertised a service
func remoteSpanCreate(l *link.Link, t *transaction.State, msg *wire.Message) {

	d, err := UnpackSpanDescriptor(msg.Payload)
	if nil != err {
		_ = l.Reply(t, wire.ErrorCodeUnsupported, nil)
		return
	}

	globalData.Lock()
	defer globalData.Unlock()

	s, ok := globalData.sessions[l.Name()]
	if !ok || t.Parent() != s.remoteConn {
		// spans only ride the peer's session
		_ = l.Reply(t, wire.ErrorCodeUnsupported, nil)
		return
	}

	// our own hop count via this link
	distance := d.Distance + 1
	if distance > maximumDistance {
		_ = l.Reply(t, wire.ErrorCodeUnsupported, nil)
		return
	}

	globalData.spans.add(&spanEntry{
		descriptor: SpanDescriptor{
			Service:  d.Service,
			PeerType: d.PeerType,
			Origin:   d.Origin,
			Distance: distance,
		},
		linkName: l.Name(),
		state:    t,
	})

	globalData.log.Infof("span: %s  distance: %d  via: %s", d.Service, distance, l.Name())

	_ = l.Result(t, wire.ErrorCodeOK, nil)
	reconcile()
}

// remoteSpanClosed - an advertisement was withdrawn
func remoteSpanClosed(t *transaction.State) {

	globalData.Lock()
	defer globalData.Unlock()

	for _, e := range globalData.spans.all() {
		if e.state == t {
			globalData.spans.remove(e)
			globalData.log.Infof("span withdrawn: %s  via: %s", e.descriptor.Service, e.linkName)
		}
	}
	reconcile()
}

// remoteSpanRefresh - a keep-alive restarts the expiry clock
func remoteSpanRefresh(t *transaction.State) {

	globalData.Lock()
	defer globalData.Unlock()

	for _, e := range globalData.spans.all() {
		if e.state == t {
			globalData.spans.refresh(e)
		}
	}
}

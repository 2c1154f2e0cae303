// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh

import (
	"encoding/hex"
	"time"

	"golang.org/x/time/rate"

	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/link"
	"github.com/spanlink/spanlinkd/mode"
	"github.com/spanlink/spanlinkd/transaction"
	"github.com/spanlink/spanlinkd/util"
	"github.com/spanlink/spanlinkd/wire"
)

// limit on outbound re-advertisement per link
const (
	relayInterval = 100 * time.Millisecond
	relayBurst    = 50
)

// relayedSpan - one advertisement we hold open on a link
type relayedSpan struct {
	state      *transaction.State
	descriptor SpanDescriptor // as advertised
}

// session - mesh state bound to one link
//
// each side creates its own conn: ours parents the advertisements we
// send, the peer's parents the advertisements we receive
type session struct {
	link       *link.Link
	conn       *transaction.State // outbound session, nil until AddLink
	remote     *ConnDescriptor    // set when the peer's conn arrives
	remoteConn *transaction.State
	limiter    *rate.Limiter
	relayed    map[string]*relayedSpan // key: service|origin-hex
}

func newSession(l *link.Link) *session {
	return &session{
		link:    l,
		limiter: rate.NewLimiter(rate.Every(relayInterval), relayBurst),
		relayed: make(map[string]*relayedSpan),
	}
}

func relayKey(service string, origin [32]byte) string {
	return service + "|" + hex.EncodeToString(origin[:])
}

// AddLink - attach an established link to the mesh
//
// opens the outbound session transaction and begins advertising; the
// session tears itself down when the session transaction terminates
func AddLink(l *link.Link) error {

	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.NotInitialised
	}

	s, ok := globalData.sessions[l.Name()]
	if ok && nil != s.conn {
		return fault.LinkAlreadyRegistered
	}
	if !ok {
		s = newSession(l)
		globalData.sessions[l.Name()] = s
	}

	payload, err := globalData.self.Pack()
	if nil != err {
		return err
	}

	name := l.Name()
	msg, conn, err := l.Create(nil, wire.ProtocolLink, CommandConn, payload,
		func(state *transaction.State, m *wire.Message) {
			sessionEvent(name, state, m)
		})
	if nil != err {
		return err
	}
	if err := l.Send(msg); nil != err {
		return err
	}

	s.conn = conn

	globalData.log.Infof("link up: %s", name)
	mode.Set(mode.Normal)

	reconcile()
	return nil
}

// sessionEvent - callback for our outbound session transaction
func sessionEvent(name string, state *transaction.State, msg *wire.Message) {

	if msg.Header.IsDelete() {
		removeLink(name)
		return
	}

	// acceptance carries the peer's descriptor
	if msg.Header.IsReply() && 0 < len(msg.Payload) {
		if d, err := UnpackConnDescriptor(msg.Payload); nil == err {
			globalData.Lock()
			if s, ok := globalData.sessions[name]; ok {
				if nil == s.remote {
					s.remote = d
				}
				addPeer(d.Address, d.Fingerprint)
			}
			globalData.Unlock()
		}
	}
}

// removeLink - detach a link and withdraw everything learned from it
func removeLink(name string) {

	globalData.Lock()
	defer globalData.Unlock()

	_, ok := globalData.sessions[name]
	if !ok {
		return
	}
	delete(globalData.sessions, name)

	dropped := globalData.spans.removeByLink(name)
	globalData.log.Infof("link down: %s  withdrawing %d spans", name, len(dropped))

	if 0 == len(globalData.sessions) {
		mode.Set(mode.Connecting)
	}

	reconcile()
}

// Connected - is some session's peer already this node
//
// used by dialers to avoid a second link to a node that connected
// inbound under a different name
func Connected(fingerprint util.FingerprintBytes) bool {

	globalData.RLock()
	defer globalData.RUnlock()

	for _, s := range globalData.sessions {
		if nil != s.remote && s.remote.Fingerprint == fingerprint {
			return true
		}
	}
	return false
}

// Links - names of the currently attached links
func Links() []string {

	globalData.RLock()
	defer globalData.RUnlock()

	names := make([]string, 0, len(globalData.sessions))
	for name := range globalData.sessions {
		names = append(names, name)
	}
	return names
}

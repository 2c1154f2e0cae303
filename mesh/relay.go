// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh

import (
	"github.com/spanlink/spanlinkd/transaction"
	"github.com/spanlink/spanlinkd/wire"
)

// reconcile - rebuild the advertisements held open on every link
//
// caller holds the mesh lock.  for each link the desired set is the
// best provider of each service, excluding anything learned over that
// same link (split horizon) and anything originated by the peer
// itself.  existing relays that no longer match are withdrawn, missing
// ones are created
func reconcile() {
	for _, s := range globalData.sessions {
		reconcileSession(s)
	}
}

func reconcileSession(s *session) {

	// cannot advertise until our session transaction is open
	if nil == s.conn || s.link.IsClosed(s.conn) {
		return
	}

	// a peer that announced no relay capability gets no
	// advertisements; an unknown peer is advertised to until its
	// descriptor says otherwise
	if nil != s.remote && 0 == s.remote.Capabilities&CapabilityRelay {
		return
	}

	desired := make(map[string]SpanDescriptor)

	for _, service := range globalData.spans.services() {
		e := bestExcluding(service, s)
		if nil == e {
			continue
		}
		if e.descriptor.Distance > maximumDistance {
			continue
		}
		desired[relayKey(service, e.descriptor.Origin)] = e.descriptor
	}

	for key, r := range s.relayed {
		d, ok := desired[key]
		if ok && d.Distance == r.descriptor.Distance {
			// already advertised correctly
			delete(desired, key)
			continue
		}
		withdrawRelay(s, key, r)
	}

	for key, d := range desired {
		advertiseRelay(s, key, d)
	}
}

// bestExcluding - provider selection for relaying to one link
func bestExcluding(service string, s *session) *spanEntry {
	var selected *spanEntry

	for _, e := range globalData.spans.all() {
		if e.descriptor.Service != service {
			continue
		}
		if e.linkName == s.link.Name() {
			continue
		}
		if nil != s.remote && e.descriptor.Origin == s.remote.Fingerprint {
			continue
		}
		if nil == selected || better(e, selected) {
			selected = e
		}
	}
	return selected
}

func advertiseRelay(s *session, key string, d SpanDescriptor) {

	if !s.limiter.Allow() {
		// the periodic announcer retries
		globalData.log.Warnf("relay rate limited on: %s  span: %s", s.link.Name(), key)
		return
	}

	payload, err := d.Pack()
	if nil != err {
		globalData.log.Errorf("pack span: %s  error: %s", key, err)
		return
	}

	name := s.link.Name()
	msg, state, err := s.link.Create(s.conn, wire.ProtocolLink, CommandSpan, payload,
		func(state *transaction.State, m *wire.Message) {
			if m.Header.IsDelete() {
				relayTerminated(name, key, state)
			}
		})
	if nil != err {
		globalData.log.Errorf("advertise on: %s  span: %s  error: %s", name, key, err)
		return
	}
	if err := s.link.Send(msg); nil != err {
		globalData.log.Errorf("advertise on: %s  span: %s  error: %s", name, key, err)
		return
	}

	s.relayed[key] = &relayedSpan{state: state, descriptor: d}
	globalData.log.Debugf("advertised on: %s  span: %s  distance: %d", name, key, d.Distance)
}

func withdrawRelay(s *session, key string, r *relayedSpan) {
	delete(s.relayed, key)
	if err := s.link.Abort(r.state); nil != err {
		globalData.log.Errorf("withdraw on: %s  span: %s  error: %s", s.link.Name(), key, err)
	}
	globalData.log.Debugf("withdrawn on: %s  span: %s", s.link.Name(), key)
}

// relayTerminated - an advertisement we held open was closed
func relayTerminated(linkName string, key string, state *transaction.State) {

	globalData.Lock()
	defer globalData.Unlock()

	s, ok := globalData.sessions[linkName]
	if !ok {
		return
	}
	if r, ok := s.relayed[key]; ok && r.state == state {
		delete(s.relayed, key)
	}
}

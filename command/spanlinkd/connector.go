// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/spanlink/spanlinkd/background"
	"github.com/spanlink/spanlinkd/link"
	"github.com/spanlink/spanlinkd/mesh"
	"github.com/spanlink/spanlinkd/util"
)

const (
	connectorInitial  = 5 * time.Second
	connectorInterval = 1 * time.Minute
)

// connector - dial out to known peers and attach the links
//
// candidates come from the static configuration and from endpoints
// the mesh has learned; certificates are self signed so trust is by
// fingerprint pinning, not by chain verification
type connector struct {
	sync.Mutex

	log         *logger.L
	static      []StaticConnection
	self        string
	fingerprint util.FingerprintBytes
	limit       int
	active      map[string]*link.Link

	background *background.T
}

func newConnector(peering *PeeringType, fingerprint util.FingerprintBytes) *connector {
	return &connector{
		log:         logger.New("connector"),
		static:      peering.Connect,
		self:        peering.Announce,
		fingerprint: fingerprint,
		limit:       peering.MaximumConnections,
		active:      make(map[string]*link.Link),
	}
}

func (conn *connector) start() {
	conn.log.Info("starting…")
	conn.background = background.Start(background.Processes{conn}, nil)
}

func (conn *connector) stop() {
	conn.background.Stop()
}

// Run - background dialing loop
func (conn *connector) Run(args interface{}, shutdown <-chan struct{}) {

	timer := time.After(connectorInitial)
loop:
	for {
		select {
		case <-shutdown:
			break loop
		case <-timer:
			conn.process()
			timer = time.After(connectorInterval)
		}
	}

	conn.Lock()
	for _, l := range conn.active {
		l.Shutdown()
	}
	conn.Unlock()
}

// one dialing pass over all candidates
func (conn *connector) process() {

	conn.Lock()
	defer conn.Unlock()

	// drop records of links that have terminated
	for address, l := range conn.active {
		select {
		case <-l.Done():
			delete(conn.active, address)
		default:
		}
	}

	for _, c := range conn.static {
		fingerprint := util.FingerprintBytes{}
		if err := fingerprint.UnmarshalText([]byte(c.Fingerprint)); nil != err {
			conn.log.Errorf("static connection: %q invalid fingerprint: %s", c.Address, err)
			continue
		}
		conn.dial(c.Address, fingerprint)
	}

	for _, peer := range mesh.Peers() {
		conn.dial(peer.Address, peer.Fingerprint)
	}
}

// dial - open one outbound link unless it already exists
//
// caller holds the connector lock
func (conn *connector) dial(address string, fingerprint util.FingerprintBytes) {

	address, err := util.CanonicalIPandPort(address)
	if nil != err {
		conn.log.Errorf("dial: %q error: %s", address, err)
		return
	}

	if address == conn.self || fingerprint == conn.fingerprint {
		return // do not dial ourselves
	}
	if _, ok := conn.active[address]; ok {
		return // already connected
	}
	if mesh.Connected(fingerprint) {
		return // already attached, probably inbound
	}
	if len(conn.active) >= conn.limit {
		return
	}

	conn.log.Infof("dialing: %s", address)

	// self signed peer certificates: verified below by fingerprint
	tlsConn, err := tls.Dial("tcp", address, &tls.Config{
		InsecureSkipVerify: true,
	})
	if nil != err {
		conn.log.Warnf("dial: %s error: %s", address, err)
		return
	}

	certificates := tlsConn.ConnectionState().PeerCertificates
	if 0 == len(certificates) || util.Fingerprint(certificates[0].Raw) != fingerprint {
		conn.log.Warnf("dial: %s certificate fingerprint mismatch", address)
		tlsConn.Close()
		return
	}

	l := link.Open(address, tlsConn, peerDispatchTable())
	err = mesh.AddLink(l)
	if nil != err {
		conn.log.Errorf("attach: %s error: %s", address, err)
		l.Destroy()
		return
	}

	conn.active[address] = l
	conn.log.Infof("connected: %s", address)
}

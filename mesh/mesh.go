// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh

import (
	"encoding/hex"
	"path"
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/spanlink/spanlinkd/background"
	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/util"
)

// file for storing saved peers
const peerFile = "peers.json"

// Parameters - static settings for the mesh layer
type Parameters struct {
	Name           string                // this node's name
	Address        string                // dialable IP:port announced to peers
	Fingerprint    util.FingerprintBytes // this node's certificate fingerprint
	Services       []string              // service names provided locally
	NodesDomain    string                // domain for DNS TXT seed lookup, empty to disable
	CacheDirectory string                // where the peers file lives
}

// globals for background processes
type meshData struct {
	sync.RWMutex // to allow locking

	// logger
	log *logger.L

	// this node's announcement
	self     ConnDescriptor
	services []string

	// per link session state
	sessions map[string]*session

	// everything advertised, local and learned
	spans *spanTable

	// dialable endpoints learned from seeds and sessions
	peers    map[string]*peerEntry
	peerFile string

	// data for threads
	lookup nodesLookup
	ann    announcer

	// for background
	background *background.T

	// set once during initialise
	initialised bool
}

// global data
var globalData meshData

// Initialise - set up the mesh layer
func Initialise(parameters *Parameters) error {

	globalData.Lock()
	defer globalData.Unlock()

	// no need to start if already started
	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	globalData.log = logger.New("mesh")
	globalData.log.Info("starting…")

	address, err := util.CanonicalIPandPort(parameters.Address)
	if nil != err {
		return err
	}

	globalData.self = ConnDescriptor{
		Version:      Version,
		PeerType:     PeerTypeNode,
		Capabilities: CapabilityRelay,
		Name:         parameters.Name,
		Address:      address,
		Fingerprint:  parameters.Fingerprint,
	}
	globalData.services = append([]string{}, parameters.Services...)

	globalData.sessions = make(map[string]*session)
	globalData.spans = newSpanTable(spanEvicted)
	globalData.peers = make(map[string]*peerEntry)
	globalData.peerFile = path.Join(parameters.CacheDirectory, peerFile)

	for _, service := range globalData.services {
		globalData.spans.add(&spanEntry{
			descriptor: SpanDescriptor{
				Service:  service,
				PeerType: PeerTypeNode,
				Origin:   globalData.self.Fingerprint,
				Distance: 0,
			},
		})
	}

	globalData.log.Info("start restoring peer data…")
	if err := restorePeers(globalData.peerFile); nil != err {
		globalData.log.Errorf("fail to restore peer data: %s", err)
	}

	if err := globalData.lookup.initialise(parameters.NodesDomain); nil != err {
		return err
	}
	if err := globalData.ann.initialise(); nil != err {
		return err
	}

	// all data initialised
	globalData.initialised = true

	// start background processes
	globalData.log.Info("start background…")

	processes := background.Processes{
		&globalData.lookup, &globalData.ann,
	}

	globalData.background = background.Start(processes, nil)

	return nil
}

// Finalise - stop all background tasks
func Finalise() error {

	if !globalData.initialised {
		return fault.NotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.log.Flush()

	// stop background
	globalData.background.Stop()

	globalData.log.Info("start backing up peer data…")
	if err := storePeers(globalData.peerFile); nil != err {
		globalData.log.Errorf("fail to backup peer data: %s", err)
	}

	globalData.Lock()
	for _, s := range globalData.sessions {
		s.link.Shutdown()
	}
	globalData.sessions = make(map[string]*session)
	globalData.initialised = false
	globalData.Unlock()

	globalData.log.Info("finished")
	globalData.log.Flush()

	return nil
}

// spanEvicted - an advertisement left the table
//
// detached handler, also fired for explicit removals; tells the
// advertiser the entry is gone and rebuilds relays without it.  both
// actions are idempotent so a duplicate invocation is harmless
func spanEvicted(key string, e *spanEntry) {

	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return
	}

	globalData.log.Infof("span lapsed: %s", key)

	if nil != e.state {
		if s, ok := globalData.sessions[e.linkName]; ok {
			_ = s.link.Abort(e.state)
		}
	}

	reconcile()
}

// ServiceInfo - one selected provider, for status displays
type ServiceInfo struct {
	Service  string `json:"service"`
	Origin   string `json:"origin"`
	Distance uint32 `json:"distance"`
	Via      string `json:"via"`
}

// Services - the current best provider for every reachable service
func Services() []ServiceInfo {

	globalData.RLock()
	defer globalData.RUnlock()

	if !globalData.initialised {
		return nil
	}

	info := []ServiceInfo{}
	for _, service := range globalData.spans.services() {
		e := globalData.spans.best(service)
		if nil == e {
			continue
		}
		via := e.linkName
		if e.isLocal() {
			via = "local"
		}
		info = append(info, ServiceInfo{
			Service:  service,
			Origin:   hex.EncodeToString(e.descriptor.Origin[:]),
			Distance: e.descriptor.Distance,
			Via:      via,
		})
	}
	return info
}

// SetServices - replace the locally provided service names
//
// used by configuration reload; advertisements are rebuilt to match
func SetServices(services []string) error {

	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.NotInitialised
	}

	current := make(map[string]struct{}, len(globalData.services))
	for _, service := range globalData.services {
		current[service] = struct{}{}
	}

	next := make(map[string]struct{}, len(services))
	for _, service := range services {
		next[service] = struct{}{}

		if _, ok := current[service]; !ok {
			globalData.spans.add(&spanEntry{
				descriptor: SpanDescriptor{
					Service:  service,
					PeerType: PeerTypeNode,
					Origin:   globalData.self.Fingerprint,
					Distance: 0,
				},
			})
		}
	}

	for _, service := range globalData.services {
		if _, ok := next[service]; !ok {
			globalData.spans.remove(&spanEntry{
				descriptor: SpanDescriptor{
					Service: service,
					Origin:  globalData.self.Fingerprint,
				},
			})
		}
	}

	globalData.services = append([]string{}, services...)
	globalData.log.Infof("services: %v", globalData.services)

	reconcile()
	return nil
}

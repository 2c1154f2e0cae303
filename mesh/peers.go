// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"time"

	"github.com/spanlink/spanlinkd/util"
)

// drop saved peers not seen for this long
const peerExpiry = 7 * 24 * time.Hour

// peerEntry - one dialable endpoint
type peerEntry struct {
	address     string
	fingerprint util.FingerprintBytes
	timestamp   time.Time
}

// PeerEndpoint - endpoint data for dialing
type PeerEndpoint struct {
	Address     string
	Fingerprint util.FingerprintBytes
}

// addPeer - record an endpoint; caller holds the mesh lock
func addPeer(address string, fingerprint util.FingerprintBytes) {

	canonical, err := util.CanonicalIPandPort(address)
	if nil != err {
		globalData.log.Warnf("ignore peer address: %q  error: %s", address, err)
		return
	}

	// never dial ourselves
	if canonical == globalData.self.Address || fingerprint == globalData.self.Fingerprint {
		return
	}

	globalData.peers[canonical] = &peerEntry{
		address:     canonical,
		fingerprint: fingerprint,
		timestamp:   time.Now(),
	}
}

// Peers - snapshot of known dialable endpoints
func Peers() []PeerEndpoint {

	globalData.RLock()
	defer globalData.RUnlock()

	endpoints := make([]PeerEndpoint, 0, len(globalData.peers))
	for _, p := range globalData.peers {
		endpoints = append(endpoints, PeerEndpoint{
			Address:     p.address,
			Fingerprint: p.fingerprint,
		})
	}
	return endpoints
}

// serialised form of one peer
type peerItem struct {
	Address     string                `json:"address"`
	Fingerprint util.FingerprintBytes `json:"fingerprint"`
	Timestamp   uint64                `json:"timestamp"`
}

// storePeers - back up all known peers into the peer file
func storePeers(peerFile string) error {

	globalData.RLock()

	items := make([]peerItem, 0, len(globalData.peers))
	for _, p := range globalData.peers {
		items = append(items, peerItem{
			Address:     p.address,
			Fingerprint: p.fingerprint,
			Timestamp:   uint64(p.timestamp.Unix()),
		})
	}
	globalData.RUnlock()

	if 0 == len(items) {
		globalData.log.Info("no need to backup. no peers are known")
		return nil
	}

	out, err := json.MarshalIndent(items, "", "  ")
	if nil != err {
		return err
	}
	return ioutil.WriteFile(peerFile, out, 0600)
}

// restorePeers - load peers from the peer file
//
// entries older than the expiry are silently dropped; a missing file
// is not an error
func restorePeers(peerFile string) error {

	readin, err := ioutil.ReadFile(peerFile)
	if nil != err {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	items := []peerItem{}
	if err := json.Unmarshal(readin, &items); nil != err {
		return err
	}

	limit := time.Now().Add(-peerExpiry)

loop:
	for _, item := range items {
		timestamp := time.Unix(int64(item.Timestamp), 0)
		if timestamp.Before(limit) {
			continue loop
		}
		addPeer(item.Address, item.Fingerprint)
	}
	return nil
}

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"fmt"

	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/link"
	"github.com/spanlink/spanlinkd/util"
)

// dial the node and bring up a bare link
//
// no dispatchers: this side only creates transactions; caller must
// Destroy the link when finished
func connect(m *metadata) (*link.Link, error) {

	if "" == m.connect {
		return nil, fmt.Errorf("missing connect argument")
	}

	address, err := util.CanonicalIPandPort(m.connect)
	if nil != err {
		return nil, err
	}

	// node certificates are self signed; optionally pinned below
	conn, err := tls.Dial("tcp", address, &tls.Config{
		InsecureSkipVerify: true,
	})
	if nil != err {
		return nil, err
	}

	if "" != m.fingerprint {
		expected := util.FingerprintBytes{}
		if err := expected.UnmarshalText([]byte(m.fingerprint)); nil != err {
			conn.Close()
			return nil, err
		}
		certificates := conn.ConnectionState().PeerCertificates
		if 0 == len(certificates) || util.Fingerprint(certificates[0].Raw) != expected {
			conn.Close()
			return nil, fault.InvalidFingerprint
		}
	}

	if m.verbose {
		fmt.Fprintf(m.e, "connected: %s\n", address)
	}

	return link.Open(address, conn, link.DispatchTable{}), nil
}

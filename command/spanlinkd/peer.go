// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"

	"github.com/bitmark-inc/logger"

	"github.com/spanlink/spanlinkd/counter"
	"github.com/spanlink/spanlinkd/link"
	"github.com/spanlink/spanlinkd/mesh"
	"github.com/spanlink/spanlinkd/shell"
	"github.com/spanlink/spanlinkd/wire"
)

// data passed to each inbound connection handler
type serverArgument struct {
	log *logger.L
}

// inbound links get sequential names, the peer's identity arrives
// later in its conn descriptor
var inboundSequence counter.Counter

// the protocols this daemon answers
func peerDispatchTable() link.DispatchTable {
	return link.DispatchTable{
		wire.ProtocolLink:  mesh.Dispatcher(),
		wire.ProtocolShell: shell.Dispatcher(),
	}
}

// peerCallback - attach one accepted TLS connection to the mesh
//
// runs in its own goroutine per connection and must not return while
// the link is live, the listener closes the connection on return
func peerCallback(conn io.ReadWriteCloser, argument interface{}) {

	arg := argument.(*serverArgument)
	log := arg.log

	name := fmt.Sprintf("in:%d", inboundSequence.Increment())
	log.Infof("accepted peer connection: %s", name)

	l := link.Open(name, conn, peerDispatchTable())

	err := mesh.AddLink(l)
	if nil != err {
		log.Errorf("attach: %s error: %s", name, err)
		l.Destroy()
		return
	}

	<-l.Done()
	log.Infof("peer connection closed: %s reason: %s", name, l.Err())
}

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package link

import (
	"github.com/spanlink/spanlinkd/transaction"
	"github.com/spanlink/spanlinkd/wire"
)

// Transport - the byte stream a link runs over
//
// the core assumes ordered byte delivery and nothing else; TCP, TLS,
// pipes and in-memory streams all satisfy this
type Transport interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// Dispatcher - the application handler for one protocol id
//
// Handle receives the create frame and every subsequent frame of a
// peer-initiated transaction, strictly in the order the peer sent
// them; it must not block the link reader for unbounded time
type Dispatcher interface {
	Handle(l *Link, t *transaction.State, msg *wire.Message)
}

// DispatchTable - protocol id to dispatcher
//
// injected at Open so protocol layers stay pluggable; a create for an
// unlisted protocol is rejected without blocking, it is not an error
// on the link
type DispatchTable map[wire.Protocol]Dispatcher

// DispatcherFunc - adapter for plain functions
type DispatcherFunc func(l *Link, t *transaction.State, msg *wire.Message)

// Handle - implement Dispatcher
func (f DispatcherFunc) Handle(l *Link, t *transaction.State, msg *wire.Message) {
	f(l, t, msg)
}

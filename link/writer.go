// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package link

import (
	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/wire"
)

// the writer execution unit
//
// sole transmitter on the transport and sole finalizer of closed
// transaction records, so release never races a frame still queued
// behind it
type writeLoop struct {
	link *Link
}

// Run - background processing entry
func (w *writeLoop) Run(args interface{}, shutdown <-chan struct{}) {
	l := w.link

loop:
	for {
		select {
		case <-shutdown:
			break loop

		case <-l.down:
			break loop

		case item := <-l.out:
			if err := wire.WriteMessage(l.transport, item.msg); nil != err {
				l.fail(fault.LinkLost)
				break loop
			}

			l.FramesOut.Increment()
			l.BytesOut.Add(uint64(wire.HeaderSize + len(item.msg.Payload)))

			if nil != item.state && l.store.IsClosed(item.state) {
				l.cascadeAbort(item.state)
				l.store.Release(item.state)
				l.maybeFinishShutdown()
			}

		case t := <-l.reap:
			l.store.Release(t)
			l.maybeFinishShutdown()
		}
	}
}

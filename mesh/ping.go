// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/link"
	"github.com/spanlink/spanlinkd/transaction"
	"github.com/spanlink/spanlinkd/wire"
)

// Ping - round trip a one-shot echo over a link
//
// the payload is an opaque 8 byte timestamp the peer echoes back;
// usable without mesh initialisation, e.g. by client tools
func Ping(l *link.Link, timeout time.Duration) (time.Duration, error) {

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, uint64(time.Now().UnixNano()))

	done := make(chan error, 1)

	msg, _, err := l.Create(nil, wire.ProtocolLink, CommandPing, payload,
		func(state *transaction.State, m *wire.Message) {
			if !m.Header.IsDelete() {
				return
			}
			if m.Header.IsAbort() || wire.ErrorCodeOK != m.Header.ErrorCode {
				done <- fault.TransactionAborted
				return
			}
			if !bytes.Equal(m.Payload, payload) {
				done <- fault.InvalidPingResponse
				return
			}
			done <- nil
		})
	if nil != err {
		return 0, err
	}

	// one-shot: delete goes out with the create
	msg.Header.Command |= wire.FlagDelete

	start := time.Now()
	if err := l.Send(msg); nil != err {
		return 0, err
	}

	select {
	case err := <-done:
		if nil != err {
			return 0, err
		}
		return time.Since(start), nil

	case <-time.After(timeout):
		return 0, fault.RequestTimeout
	}
}

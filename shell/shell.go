// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package shell - line oriented diagnostic access to a running node
//
// each request is a one-shot transaction: the create frame carries a
// command line and the closing reply carries the printable result.
// intended for operator tooling, not for machine consumption
package shell

import (
	"fmt"
	"strings"
	"time"

	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/link"
	"github.com/spanlink/spanlinkd/mesh"
	"github.com/spanlink/spanlinkd/transaction"
	"github.com/spanlink/spanlinkd/wire"
)

// base command values for the shell protocol
const (
	CommandExecute = 1
)

// Dispatcher - the handler to register for the shell protocol
func Dispatcher() link.Dispatcher {
	return link.DispatcherFunc(handleShell)
}

// handleShell - answer one inbound request
//
// runs on the link reader; every command here is quick and local
func handleShell(l *link.Link, t *transaction.State, msg *wire.Message) {

	if !msg.Header.IsCreate() {
		return
	}

	if CommandExecute != t.BaseCommand() {
		_ = l.Reply(t, wire.ErrorCodeUnsupported, nil)
		return
	}

	output := run(l, strings.TrimSpace(string(msg.Payload)))
	_ = l.Reply(t, wire.ErrorCodeOK, []byte(output))
}

func run(l *link.Link, line string) string {

	command := line
	if i := strings.IndexByte(line, ' '); i >= 0 {
		command = line[:i]
	}

	switch command {

	case "status":
		s := strings.Builder{}
		fmt.Fprintf(&s, "link: %s\n", l.Name())
		fmt.Fprintf(&s, "open transactions: %d\n", l.OpenTransactions())
		fmt.Fprintf(&s, "frames in: %d  out: %d\n", l.FramesIn.Uint64(), l.FramesOut.Uint64())
		fmt.Fprintf(&s, "bytes in: %d  out: %d\n", l.BytesIn.Uint64(), l.BytesOut.Uint64())
		fmt.Fprintf(&s, "aborts: %d\n", l.Aborts.Uint64())
		return s.String()

	case "links":
		s := strings.Builder{}
		for _, name := range mesh.Links() {
			fmt.Fprintf(&s, "%s\n", name)
		}
		return s.String()

	case "services":
		s := strings.Builder{}
		for _, info := range mesh.Services() {
			fmt.Fprintf(&s, "%s  distance: %d  via: %s  origin: %s\n", info.Service, info.Distance, info.Via, info.Origin)
		}
		return s.String()

	case "peers":
		s := strings.Builder{}
		for _, peer := range mesh.Peers() {
			fingerprint, _ := peer.Fingerprint.MarshalText()
			fmt.Fprintf(&s, "%s  %s\n", peer.Address, fingerprint)
		}
		return s.String()

	case "help", "":
		return "commands: status links services peers help\n"

	default:
		return fmt.Sprintf("no such command: %q\n", command)
	}
}

// Execute - run one command line on the peer at the far end of a link
//
// client side of the protocol; blocks up to timeout for the reply
func Execute(l *link.Link, line string, timeout time.Duration) (string, error) {

	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)

	msg, _, err := l.Create(nil, wire.ProtocolShell, CommandExecute, []byte(line),
		func(state *transaction.State, m *wire.Message) {
			if !m.Header.IsDelete() {
				return
			}
			if m.Header.IsAbort() || wire.ErrorCodeOK != m.Header.ErrorCode {
				done <- result{err: fault.TransactionAborted}
				return
			}
			done <- result{output: string(m.Payload)}
		})
	if nil != err {
		return "", err
	}

	// one-shot: create and delete in a single frame
	msg.Header.Command |= wire.FlagDelete

	err = l.Send(msg)
	if nil != err {
		return "", err
	}

	select {
	case r := <-done:
		return r.output, r.err
	case <-l.Done():
		return "", l.Err()
	case <-time.After(timeout):
		return "", fault.RequestTimeout
	}
}

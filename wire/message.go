// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"hash/crc32"
	"io"
	"math/rand"

	"github.com/spanlink/spanlinkd/fault"
)

// Message - one frame: header plus optional auxiliary payload
//
// a message is exclusively owned by its creator until handed to a
// link's transmit queue, after which ownership transfers to the link
type Message struct {
	Header  Header
	Payload []byte // unpadded auxiliary payload
}

// NewMessage - create a message with a fresh salt
//
// the salt is random filler, not a security mechanism
func NewMessage(command uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Salt:    rand.Uint32(),
			Command: command,
		},
		Payload: payload,
	}
}

// alignedLength - payload size after padding
func alignedLength(n uint32) uint32 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// Encode - produce the byte stream form of a message
//
// computes both checksums; the header is never emitted partially
// filled
func (msg *Message) Encode() ([]byte, error) {

	n := uint32(len(msg.Payload))
	if n > MaximumPayload {
		return nil, fault.PayloadTooLarge
	}

	msg.Header.AuxLength = n
	if 0 == n {
		msg.Header.AuxChecksum = 0
	} else {
		msg.Header.AuxChecksum = crc32.Checksum(msg.Payload, crcTable)
	}

	packed := msg.Header.Pack()

	buffer := make([]byte, HeaderSize+alignedLength(n))
	copy(buffer, packed[:])
	copy(buffer[HeaderSize:], msg.Payload)

	return buffer, nil
}

// ReadMessage - decode one message from a byte stream
//
// reads exactly one header and, if the auxiliary length is non zero,
// exactly the padded payload that follows; any integrity failure is
// returned as a frame error and the stream must be abandoned
func ReadMessage(r io.Reader) (*Message, error) {

	packed := PackedHeader{}
	if _, err := io.ReadFull(r, packed[:]); nil != err {
		return nil, err
	}

	header, err := packed.Unpack()
	if nil != err {
		return nil, err
	}

	msg := &Message{Header: *header}

	if 0 == header.AuxLength {
		return msg, nil
	}

	padded := make([]byte, alignedLength(header.AuxLength))
	if _, err := io.ReadFull(r, padded); nil != err {
		return nil, err
	}

	payload := padded[:header.AuxLength]
	if header.AuxChecksum != crc32.Checksum(payload, crcTable) {
		return nil, fault.PayloadChecksumMismatch
	}

	msg.Payload = payload
	return msg, nil
}

// WriteMessage - encode and emit one message to a byte stream
func WriteMessage(w io.Writer, msg *Message) error {
	buffer, err := msg.Encode()
	if nil != err {
		return err
	}
	_, err = w.Write(buffer)
	return err
}

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

// control flag bits of the command word
const (
	FlagCreate   uint32 = 1 << 31 // open a new transaction
	FlagDelete   uint32 = 1 << 30 // half-close from the sending side
	FlagReply    uint32 = 1 << 29 // response direction
	FlagAbort    uint32 = 1 << 28 // abnormal termination / rejection
	FlagRevTrans uint32 = 1 << 27 // transaction id was issued by the receiver
	FlagRevCirc  uint32 = 1 << 26 // circuit id was issued by the receiver

	FlagsMask = FlagCreate | FlagDelete | FlagReply | FlagAbort | FlagRevTrans | FlagRevCirc
)

// sub-fields of the command word
//
//	bits  0…7   base command
//	bits  8…15  protocol id
//	bits 16…19  header size code (header bytes / 64)
//	bits 20…25  reserved, must be zero
const (
	baseCommandMask = 0x000000ff

	protocolShift = 8
	protocolMask  = 0x0000ff00

	headerSizeShift = 16
	headerSizeMask  = 0x000f0000

	reservedBitsMask = 0x03f00000
)

// Protocol - the registered dispatcher namespace
type Protocol uint8

// protocol ids, each routed to a distinct registered dispatcher
const (
	ProtocolLink        Protocol = iota // connection / span / ping control
	ProtocolShell                       // debug shell access
	ProtocolFilesystem                  // filesystem operations
	ProtocolBlockDevice                 // block device operations
	ProtocolVFS                         // vfs operations
)

// Command - build a full command word from its parts
func Command(base uint8, protocol Protocol, flags uint32) uint32 {
	return uint32(base) |
		uint32(protocol)<<protocolShift |
		(HeaderSize/Alignment)<<headerSizeShift |
		flags&FlagsMask
}

// BaseCommand - extract the base command
func BaseCommand(command uint32) uint8 {
	return uint8(command & baseCommandMask)
}

// ProtocolOf - extract the protocol id
func ProtocolOf(command uint32) Protocol {
	return Protocol((command & protocolMask) >> protocolShift)
}

// headerSizeCode - extract the header size code
func headerSizeCode(command uint32) uint32 {
	return (command & headerSizeMask) >> headerSizeShift
}

// application level error codes carried in the header error field
const (
	ErrorCodeOK          uint32 = 0
	ErrorCodeUnsupported uint32 = 1 // no handler for command/protocol
	ErrorCodeCancelled   uint32 = 2 // aborted before completion
	ErrorCodeLinkLost    uint32 = 3 // transport failed with work pending
)

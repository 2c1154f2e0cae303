// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/spanlink/spanlinkd/fault"
)

// PackedHeader - use fixed size array to simplify validation
type PackedHeader [HeaderSize]byte

// fixed frame sizes
const (
	Alignment = 64 // payload padding unit

	// reject absurd payload lengths before allocating
	MaximumPayload = 4 * 1024 * 1024
)

// the magic value identifying a frame
const MagicValue uint16 = 0x4c53

// byte sizes for the fields
const (
	magicSize       = 2
	reservedSize    = 2
	saltSize        = 4
	transactionSize = 8
	circuitSize     = 8
	verifierSize    = 8
	commandSize     = 4
	auxChecksumSize = 4
	auxLengthSize   = 4
	errorSize       = 4
	descriptorSize  = 8
	reserved2Size   = 4
	checksumSize    = 4
)

// offsets of the fields
const (
	magicOffset       = 0
	reservedOffset    = magicOffset + magicSize
	saltOffset        = reservedOffset + reservedSize
	transactionOffset = saltOffset + saltSize
	circuitOffset     = transactionOffset + transactionSize
	verifierOffset    = circuitOffset + circuitSize
	commandOffset     = verifierOffset + verifierSize
	auxChecksumOffset = commandOffset + commandSize
	auxLengthOffset   = auxChecksumOffset + auxChecksumSize
	errorOffset       = auxLengthOffset + auxLengthSize
	descriptorOffset  = errorOffset + errorSize
	reserved2Offset   = descriptorOffset + descriptorSize
	checksumOffset    = reserved2Offset + reserved2Size

	// to set size of header array
	HeaderSize = checksumOffset + checksumSize // total bytes in the header
)

// both checksums use the Castagnoli polynomial
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Header - the unpacked header structure
type Header struct {
	Salt          uint32 // random, reserved for future use
	TransactionId uint64 // id in the creator's namespace
	CircuitId     uint64 // parent transaction id, 0 = none
	LinkVerifier  uint64 // reserved for future link authentication
	Command       uint32 // flags + protocol id + base command
	AuxChecksum   uint32 // CRC of the unpadded payload
	AuxLength     uint32 // unpadded payload byte count
	ErrorCode     uint32 // application error carried on reply/delete
	AuxDescriptor uint64 // out of band payload tag
}

// Pack - turn a header into an array of bytes
//
// computes the header checksum last so a partially filled header can
// never be emitted
func (header *Header) Pack() PackedHeader {
	buffer := PackedHeader{}

	binary.LittleEndian.PutUint16(buffer[magicOffset:], MagicValue)
	binary.LittleEndian.PutUint32(buffer[saltOffset:], header.Salt)
	binary.LittleEndian.PutUint64(buffer[transactionOffset:], header.TransactionId)
	binary.LittleEndian.PutUint64(buffer[circuitOffset:], header.CircuitId)
	binary.LittleEndian.PutUint64(buffer[verifierOffset:], header.LinkVerifier)
	binary.LittleEndian.PutUint32(buffer[commandOffset:], header.Command)
	binary.LittleEndian.PutUint32(buffer[auxChecksumOffset:], header.AuxChecksum)
	binary.LittleEndian.PutUint32(buffer[auxLengthOffset:], header.AuxLength)
	binary.LittleEndian.PutUint32(buffer[errorOffset:], header.ErrorCode)
	binary.LittleEndian.PutUint64(buffer[descriptorOffset:], header.AuxDescriptor)

	checksum := crc32.Checksum(buffer[:checksumOffset], crcTable)
	binary.LittleEndian.PutUint32(buffer[checksumOffset:], checksum)

	return buffer
}

// Unpack - extract a header from an array of bytes
//
// magic or checksum failure means framing can no longer be trusted so
// both are frame errors, fatal to the link
func (record PackedHeader) Unpack() (*Header, error) {

	if MagicValue != binary.LittleEndian.Uint16(record[magicOffset:]) {
		return nil, fault.InvalidMagic
	}

	checksum := crc32.Checksum(record[:checksumOffset], crcTable)
	if checksum != binary.LittleEndian.Uint32(record[checksumOffset:]) {
		return nil, fault.HeaderChecksumMismatch
	}

	header := &Header{
		Salt:          binary.LittleEndian.Uint32(record[saltOffset:]),
		TransactionId: binary.LittleEndian.Uint64(record[transactionOffset:]),
		CircuitId:     binary.LittleEndian.Uint64(record[circuitOffset:]),
		LinkVerifier:  binary.LittleEndian.Uint64(record[verifierOffset:]),
		Command:       binary.LittleEndian.Uint32(record[commandOffset:]),
		AuxChecksum:   binary.LittleEndian.Uint32(record[auxChecksumOffset:]),
		AuxLength:     binary.LittleEndian.Uint32(record[auxLengthOffset:]),
		ErrorCode:     binary.LittleEndian.Uint32(record[errorOffset:]),
		AuxDescriptor: binary.LittleEndian.Uint64(record[descriptorOffset:]),
	}

	if HeaderSize/Alignment != headerSizeCode(header.Command) {
		return nil, fault.InvalidHeaderSize
	}

	if 0 != header.Command&reservedBitsMask {
		return nil, fault.InvalidCommandFlags
	}

	if header.AuxLength > MaximumPayload {
		return nil, fault.PayloadTooLarge
	}

	return header, nil
}

// flag accessors

// IsCreate - create flag is set
func (header *Header) IsCreate() bool { return 0 != header.Command&FlagCreate }

// IsDelete - delete flag is set
func (header *Header) IsDelete() bool { return 0 != header.Command&FlagDelete }

// IsReply - reply flag is set
func (header *Header) IsReply() bool { return 0 != header.Command&FlagReply }

// IsAbort - abort flag is set
func (header *Header) IsAbort() bool { return 0 != header.Command&FlagAbort }

// IsRevTrans - transaction id belongs to the receiver's namespace
func (header *Header) IsRevTrans() bool { return 0 != header.Command&FlagRevTrans }

// IsRevCirc - circuit id belongs to the receiver's namespace
func (header *Header) IsRevCirc() bool { return 0 != header.Command&FlagRevCirc }

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wire - the bit-exact frame format carried on a link
//
// Every frame is a fixed 64 byte header optionally followed by an
// auxiliary payload padded to the 64 byte alignment unit.  The header
// carries its own CRC and a separate CRC for the payload; a mismatch
// of either invalidates stream framing and is fatal to the link.
//
// The command word mixes four control flags (create, delete, reply,
// abort) with two id-reuse flags (revtrans, revcirc) that indicate the
// transaction or circuit id was issued by the receiving side.  This
// lets two independently numbering peers share one 64 bit id space;
// the receiver selects its locally-issued or peer-issued index from
// the flag alone.
package wire

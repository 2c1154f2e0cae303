// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package transaction - per-exchange protocol state
//
// A transaction is opened by a create-flagged message and closed once
// a delete-flagged message has been observed in both directions; the
// two close flags are independent of which side created the
// transaction.  Transactions stack: a child declares its parent by
// circuit id at create time and the parent cannot be released while
// any child remains, so destroying a transaction cascades an abort
// down a tree that is acyclic by construction.
//
// A store holds two indexes over one link: ids issued locally and ids
// issued by the peer.  The same 64 bit value can be open in both at
// once; the revtrans/revcirc wire flags select the index.
package transaction

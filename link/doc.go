// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package link - one point-to-point transaction carrying connection
//
// A link owns exactly one byte-stream transport, a FIFO transmit
// queue and two background processes: the reader decodes one frame at
// a time, applies the transaction transition and delivers the
// application callback before touching the next frame, which is what
// gives per-transaction ordered delivery; the writer drains the
// transmit queue and is the only place fully closed transaction
// records are finalized and dropped.
//
// Any transport error, frame error or protocol violation is terminal:
// the link synthesizes an abort for every open transaction, delivers
// each terminal callback exactly once and becomes unusable.  No
// transaction is ever dropped without a final callback.
package link

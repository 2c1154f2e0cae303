// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh

// base commands of the link control protocol
const (
	CommandConn uint8 = 1 // long-lived session, one per direction per link
	CommandSpan uint8 = 2 // service advertisement, child of a conn
	CommandPing uint8 = 3 // one-shot echo
)

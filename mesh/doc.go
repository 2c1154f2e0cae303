// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mesh - the service layer above raw links
//
// each attached link carries one long-lived session transaction (conn)
// created by each side; service availability is advertised as a child
// transaction of the conn (span) carrying a hop distance.  spans seen
// on one link are relayed to the others with distance incremented, so
// every node converges on a table of reachable services.  when a conn
// terminates all spans learned through it are withdrawn and the
// withdrawals propagate the same way
//
// selection between multiple providers of the same service is by
// minimum distance with a deterministic tie break on the origin
// fingerprint, never by arrival order
package mesh

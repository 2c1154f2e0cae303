// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh

import (
	"bytes"
	"encoding/hex"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/spanlink/spanlinkd/transaction"
)

// advertisements lapse unless refreshed
const (
	spanExpiry  = 60 * time.Minute
	spanCleanup = 1 * time.Minute
)

// relay loops are cut by both split horizon and a hop ceiling
const maximumDistance = 64

// spanEntry - one advertisement as stored
//
// distance is this node's own hop count to the origin: zero for a
// local service, received distance plus one for a learned one
type spanEntry struct {
	descriptor SpanDescriptor
	linkName   string             // empty for local services
	state      *transaction.State // inbound advertisement, nil for local
}

// only local entries never expire
func (e *spanEntry) isLocal() bool {
	return "" == e.linkName
}

// spanTable - everything currently advertised, local and learned
//
// the cache owns expiry: entries not refreshed by their advertiser
// lapse and the eviction callback withdraws any relays built on them
type spanTable struct {
	store *cache.Cache
}

func newSpanTable(evicted func(key string, e *spanEntry)) *spanTable {
	t := &spanTable{
		store: cache.New(spanExpiry, spanCleanup),
	}
	// the cache invokes this on explicit deletes as well as expiry
	// and possibly while the mesh lock is held, so the handler runs
	// detached and must be idempotent
	t.store.OnEvicted(func(key string, v interface{}) {
		if e, ok := v.(*spanEntry); ok {
			go evicted(key, e)
		}
	})
	return t
}

// key layout: service|origin-hex|link-name
func spanKey(service string, origin [32]byte, linkName string) string {
	return service + "|" + hex.EncodeToString(origin[:]) + "|" + linkName
}

func (t *spanTable) add(e *spanEntry) {
	key := spanKey(e.descriptor.Service, e.descriptor.Origin, e.linkName)
	if e.isLocal() {
		t.store.Set(key, e, cache.NoExpiration)
	} else {
		t.store.Set(key, e, spanExpiry)
	}
}

// refresh - restart the expiry clock for a learned advertisement
func (t *spanTable) refresh(e *spanEntry) {
	t.add(e)
}

func (t *spanTable) remove(e *spanEntry) {
	t.store.Delete(spanKey(e.descriptor.Service, e.descriptor.Origin, e.linkName))
}

// removeByLink - drop every advertisement learned over one link
//
// returns what was dropped so relays can be withdrawn
func (t *spanTable) removeByLink(linkName string) []*spanEntry {
	dropped := []*spanEntry{}
	for key, item := range t.store.Items() {
		e, ok := item.Object.(*spanEntry)
		if !ok || e.linkName != linkName {
			continue
		}
		t.store.Delete(key)
		dropped = append(dropped, e)
	}
	return dropped
}

// all - snapshot of every live entry
func (t *spanTable) all() []*spanEntry {
	items := t.store.Items()
	entries := make([]*spanEntry, 0, len(items))
	for _, item := range items {
		if e, ok := item.Object.(*spanEntry); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// services - the distinct service names currently reachable
func (t *spanTable) services() []string {
	seen := map[string]struct{}{}
	names := []string{}
	for _, e := range t.all() {
		if _, ok := seen[e.descriptor.Service]; ok {
			continue
		}
		seen[e.descriptor.Service] = struct{}{}
		names = append(names, e.descriptor.Service)
	}
	return names
}

// best - select the provider for a service
//
// minimum distance wins; equal distances are broken by comparing the
// origin fingerprints and then the link names, so the choice is a
// function of the table contents alone and never of arrival order
func (t *spanTable) best(service string) *spanEntry {
	var selected *spanEntry

	for _, e := range t.all() {
		if e.descriptor.Service != service {
			continue
		}
		if nil == selected || better(e, selected) {
			selected = e
		}
	}
	return selected
}

func better(a *spanEntry, b *spanEntry) bool {
	if a.descriptor.Distance != b.descriptor.Distance {
		return a.descriptor.Distance < b.descriptor.Distance
	}
	if c := bytes.Compare(a.descriptor.Origin[:], b.descriptor.Origin[:]); 0 != c {
		return c < 0
	}
	return a.linkName < b.linkName
}

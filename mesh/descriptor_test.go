// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/mesh"
	"github.com/spanlink/spanlinkd/util"
)

func TestConnDescriptorPack(t *testing.T) {

	d := &mesh.ConnDescriptor{
		Version:      mesh.Version,
		PeerType:     mesh.PeerTypeNode,
		Capabilities: mesh.CapabilityRelay,
		Name:         "n1",
		Address:      "203.0.113.7:2136",
		Fingerprint:  util.Fingerprint([]byte("certificate data")),
	}

	buffer, err := d.Pack()
	assert.Nil(t, err, "pack error")

	u, err := mesh.UnpackConnDescriptor(buffer)
	assert.Nil(t, err, "unpack error")
	assert.Equal(t, d, u, "round trip")
}

func TestConnDescriptorErrors(t *testing.T) {

	empty := &mesh.ConnDescriptor{}
	_, err := empty.Pack()
	assert.Equal(t, fault.InvalidLabelLength, err, "empty name")

	d := &mesh.ConnDescriptor{Name: "n1", Address: "[::1]:2136"}
	buffer, err := d.Pack()
	assert.Nil(t, err, "pack error")

	// truncation anywhere must be detected
	for i := 0; i < len(buffer); i += 1 {
		_, err := mesh.UnpackConnDescriptor(buffer[:i])
		assert.NotNil(t, err, "truncated at %d", i)
	}

	// trailing junk must be rejected
	_, err = mesh.UnpackConnDescriptor(append(buffer, 0x00))
	assert.Equal(t, fault.InvalidDescriptor, err, "trailing junk")
}

func TestSpanDescriptorPack(t *testing.T) {

	d := &mesh.SpanDescriptor{
		Service:  "storage",
		PeerType: mesh.PeerTypeClient,
		Origin:   util.Fingerprint([]byte("origin node")),
		Distance: 3,
	}

	buffer, err := d.Pack()
	assert.Nil(t, err, "pack error")

	u, err := mesh.UnpackSpanDescriptor(buffer)
	assert.Nil(t, err, "unpack error")
	assert.Equal(t, d, u, "round trip")
}

func TestSpanDescriptorErrors(t *testing.T) {

	d := &mesh.SpanDescriptor{Service: "storage"}
	buffer, err := d.Pack()
	assert.Nil(t, err, "pack error")

	for i := 0; i < len(buffer); i += 1 {
		_, err := mesh.UnpackSpanDescriptor(buffer[:i])
		assert.NotNil(t, err, "truncated at %d", i)
	}

	_, err = mesh.UnpackSpanDescriptor(append(buffer, 0x00))
	assert.Equal(t, fault.InvalidDescriptor, err, "trailing junk")
}

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh

import (
	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/util"
)

// limits on descriptor string fields
const (
	minimumLabelLength = 1
	maximumLabelLength = 255
)

// Version - the session protocol spoken by this implementation
//
// announced in every conn descriptor; a peer announcing a different
// version is refused before its session becomes active
const Version = 1

// peer type codes carried in descriptors
const (
	PeerTypeClient uint32 = 1 // dials in for services, never relays
	PeerTypeNode   uint32 = 2 // full mesh member
)

// capability bits carried in conn descriptors
const (
	CapabilityRelay uint64 = 1 << iota // accepts relayed advertisements
)

// ConnDescriptor - payload of a session create message
//
// identifies the sending node: its protocol version, peer type and
// capability mask, its name, the canonical address other nodes can
// dial and the fingerprint of its certificate
type ConnDescriptor struct {
	Version      uint32
	PeerType     uint32
	Capabilities uint64
	Name         string
	Address      string
	Fingerprint  util.FingerprintBytes
}

// SpanDescriptor - payload of a service advertisement
//
// origin is the fingerprint of the node that actually provides the
// service and peer type its kind; distance is the hop count from the
// sender of this advertisement to the origin, zero when the sender is
// the origin
type SpanDescriptor struct {
	Service  string
	PeerType uint32
	Origin   util.FingerprintBytes
	Distance uint32
}

// Pack - serialise a conn descriptor
//
// layout: version(varint), peer type(varint), capabilities(varint),
// name(varint length + bytes), address(varint length + bytes),
// fingerprint(32 bytes)
func (d *ConnDescriptor) Pack() ([]byte, error) {

	if err := checkLabel(d.Name); nil != err {
		return nil, err
	}
	if err := checkLabel(d.Address); nil != err {
		return nil, err
	}

	buffer := util.ToVarint64(uint64(d.Version))
	buffer = append(buffer, util.ToVarint64(uint64(d.PeerType))...)
	buffer = append(buffer, util.ToVarint64(d.Capabilities)...)
	buffer = append(buffer, util.ToVarint64(uint64(len(d.Name)))...)
	buffer = append(buffer, d.Name...)
	buffer = append(buffer, util.ToVarint64(uint64(len(d.Address)))...)
	buffer = append(buffer, d.Address...)
	buffer = append(buffer, d.Fingerprint[:]...)

	return buffer, nil
}

// UnpackConnDescriptor - deserialise a conn descriptor
func UnpackConnDescriptor(buffer []byte) (*ConnDescriptor, error) {

	d := &ConnDescriptor{}

	v, n, err := unpackUint32(buffer)
	if nil != err {
		return nil, err
	}
	d.Version = v
	buffer = buffer[n:]

	v, n, err = unpackUint32(buffer)
	if nil != err {
		return nil, err
	}
	d.PeerType = v
	buffer = buffer[n:]

	capabilities, n := util.FromVarint64(buffer)
	if 0 == n {
		return nil, fault.InvalidDescriptor
	}
	d.Capabilities = capabilities
	buffer = buffer[n:]

	s, n, err := unpackLabel(buffer)
	if nil != err {
		return nil, err
	}
	d.Name = s
	buffer = buffer[n:]

	s, n, err = unpackLabel(buffer)
	if nil != err {
		return nil, err
	}
	d.Address = s
	buffer = buffer[n:]

	if len(buffer) != len(d.Fingerprint) {
		return nil, fault.InvalidDescriptor
	}
	copy(d.Fingerprint[:], buffer)

	return d, nil
}

// Pack - serialise a span descriptor
//
// layout: service(varint length + bytes), peer type(varint), origin
// fingerprint(32 bytes), distance(varint)
func (d *SpanDescriptor) Pack() ([]byte, error) {

	if err := checkLabel(d.Service); nil != err {
		return nil, err
	}

	buffer := util.ToVarint64(uint64(len(d.Service)))
	buffer = append(buffer, d.Service...)
	buffer = append(buffer, util.ToVarint64(uint64(d.PeerType))...)
	buffer = append(buffer, d.Origin[:]...)
	buffer = append(buffer, util.ToVarint64(uint64(d.Distance))...)

	return buffer, nil
}

// UnpackSpanDescriptor - deserialise a span descriptor
func UnpackSpanDescriptor(buffer []byte) (*SpanDescriptor, error) {

	d := &SpanDescriptor{}

	s, n, err := unpackLabel(buffer)
	if nil != err {
		return nil, err
	}
	d.Service = s
	buffer = buffer[n:]

	v, n, err := unpackUint32(buffer)
	if nil != err {
		return nil, err
	}
	d.PeerType = v
	buffer = buffer[n:]

	if len(buffer) < len(d.Origin) {
		return nil, fault.InvalidDescriptor
	}
	copy(d.Origin[:], buffer)
	buffer = buffer[len(d.Origin):]

	distance, n := util.FromVarint64(buffer)
	if 0 == n || n != len(buffer) || distance > 0xffffffff {
		return nil, fault.InvalidDescriptor
	}
	d.Distance = uint32(distance)

	return d, nil
}

func checkLabel(s string) error {
	if len(s) < minimumLabelLength || len(s) > maximumLabelLength {
		return fault.InvalidLabelLength
	}
	return nil
}

// unpackUint32 - read one varint constrained to 32 bits
func unpackUint32(buffer []byte) (uint32, int, error) {
	value, n := util.FromVarint64(buffer)
	if 0 == n || value > 0xffffffff {
		return 0, 0, fault.InvalidDescriptor
	}
	return uint32(value), n, nil
}

// unpackLabel - read one varint length prefixed string
//
// returns the string and the total bytes consumed
func unpackLabel(buffer []byte) (string, int, error) {

	length, n := util.ClippedVarint64(buffer, minimumLabelLength, maximumLabelLength)
	if 0 == n {
		return "", 0, fault.InvalidDescriptor
	}
	if len(buffer) < n+length {
		return "", 0, fault.InvalidDescriptor
	}
	return string(buffer[n : n+length]), n + length, nil
}

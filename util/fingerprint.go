// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// FingerprintBytes - type for SHA3 fingerprints
type FingerprintBytes [32]byte

// Fingerprint - fingerprint some data, normally a certificate
func Fingerprint(data []byte) FingerprintBytes {
	return sha3.Sum256(data)
}

// MarshalText - convert fingerprint to hex text
func (fingerprint FingerprintBytes) MarshalText() ([]byte, error) {
	size := hex.EncodedLen(len(fingerprint))
	buffer := make([]byte, size)
	hex.Encode(buffer, fingerprint[:])
	return buffer, nil
}

// UnmarshalText - convert hex text into a fingerprint
func (fingerprint *FingerprintBytes) UnmarshalText(s []byte) error {
	if hex.DecodedLen(len(s)) != len(fingerprint) {
		return hex.ErrLength
	}
	_, err := hex.Decode(fingerprint[:], s)
	return err
}

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"io/ioutil"
	"os"
	"time"

	"github.com/bitmark-inc/certgen"
	"github.com/bitmark-inc/listener"
	"github.com/bitmark-inc/logger"

	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/util"
)

// verify that a set of listener parameters are valid
// and return the certificate fingerprint
func verifyListen(log *logger.L, name string, server *serverChannel) (*util.FingerprintBytes, bool) {
	if server.limit < 0 {
		log.Errorf("invalid %s limit: %d", name, server.limit)
		return nil, false
	}

	// listening is disabled
	if 0 == server.limit || 0 == len(server.addresses) {
		server.limit = 0
		return nil, true
	}

	if !util.EnsureFileExists(server.certificateFileName) {
		log.Errorf("certificate: %q does not exist", server.certificateFileName)
		return nil, false
	}

	if !util.EnsureFileExists(server.keyFileName) {
		log.Errorf("private key: %q does not exist", server.keyFileName)
		return nil, false
	}

	// set up TLS
	keyPair, err := tls.LoadX509KeyPair(server.certificateFileName, server.keyFileName)
	if nil != err {
		log.Errorf("%s failed to load keypair: %v", name, err)
		return nil, false
	}

	server.tlsConfiguration = &tls.Config{
		Certificates: []tls.Certificate{
			keyPair,
		},
	}

	fingerprint := util.Fingerprint(keyPair.Certificate[0])
	log.Infof("%s SHA3-256 fingerprint: %x", name, fingerprint)

	// create limiter
	server.limiter = listener.NewLimiter(server.limit)

	return &fingerprint, true
}

// create a self-signed certificate
func makeSelfSignedCertificate(name string, certificateFileName string, privateKeyFileName string, override bool, extraHosts []string) error {

	if util.EnsureFileExists(certificateFileName) {
		return fault.CertificateFileExists
	}

	if util.EnsureFileExists(privateKeyFileName) {
		return fault.KeyFileExists
	}

	org := "spanlinkd self signed cert for: " + name
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := certgen.NewTLSCertPair(org, validUntil, override, extraHosts)
	if nil != err {
		return err
	}

	if err = ioutil.WriteFile(certificateFileName, cert, 0666); nil != err {
		return err
	}

	if err = ioutil.WriteFile(privateKeyFileName, key, 0600); nil != err {
		os.Remove(certificateFileName)
		return err
	}

	return nil
}

// compute the fingerprint of the certificate in a PEM key pair
//
// used by the dns-txt command so the TXT record can be produced
// without starting the daemon
func certificateFingerprint(certificateFileName string, privateKeyFileName string) (*util.FingerprintBytes, error) {

	keyPair, err := tls.LoadX509KeyPair(certificateFileName, privateKeyFileName)
	if nil != err {
		return nil, err
	}
	fingerprint := util.Fingerprint(keyPair.Certificate[0])
	return &fingerprint, nil
}

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bitmark-inc/exitwithstatus"
)

const (
	peerCertificateFilename = "peer.crt"
	peerPrivateKeyFilename  = "peer.key"
)

// setup command handler
//
// commands that run to create key and certificate files: these
// commands cannot access any internal state or the configuration file
func processSetupCommand(program string, arguments []string) bool {

	command := "help"
	if len(arguments) > 0 {
		command = arguments[0]
		arguments = arguments[1:]
	}

	switch command {
	case "gen-peer-cert", "cert":
		certificateFilename := getFilenameWithDirectory(arguments, peerCertificateFilename)
		privateKeyFilename := getFilenameWithDirectory(arguments, peerPrivateKeyFilename)

		addresses := []string{}
		if len(arguments) >= 2 {
			for _, a := range arguments[1:] {
				if "" != a {
					addresses = append(addresses, a)
				}
			}
		}

		err := makeSelfSignedCertificate("peer", certificateFilename, privateKeyFilename, 0 != len(addresses), addresses)
		if nil != err {
			fmt.Printf("generate peer key: %q and certificate: %q error: %s\n", privateKeyFilename, certificateFilename, err)
			exitwithstatus.Exit(1)
		}
		fmt.Printf("generated peer key: %q and certificate: %q\n", privateKeyFilename, certificateFilename)

		fingerprint, err := certificateFingerprint(certificateFilename, privateKeyFilename)
		if nil != err {
			fmt.Printf("fingerprint certificate: %q error: %s\n", certificateFilename, err)
			exitwithstatus.Exit(1)
		}
		fmt.Printf("certificate fingerprint: %x\n", *fingerprint)

	case "dns-txt", "txt":
		return false // defer processing until configuration is read

	case "start", "run":
		return false // continue processing

	case "config-test", "cfg":
		return false

	case "version", "v":
		fmt.Printf("%s\n", version)

	default:
		switch command {
		case "help", "h", "?":
		case "", " ":
			fmt.Printf("error: missing command\n")
		default:
			fmt.Printf("error: no such command: %q\n", command)
		}
		fmt.Printf("usage: %s [--help] [--verbose] [--quiet] --config-file=FILE [[command|help] arguments...]\n", program)

		fmt.Printf("supported commands:\n\n")
		fmt.Printf("  help                       (h)      - display this message\n\n")
		fmt.Printf("  version                    (v)      - display version string\n\n")

		fmt.Printf("  gen-peer-cert [DIR] [IPs...] (cert) - create private key in:  %q\n", "DIR/"+peerPrivateKeyFilename)
		fmt.Printf("                                        and the certificate in: %q\n", "DIR/"+peerCertificateFilename)
		fmt.Printf("\n")

		fmt.Printf("  dns-txt                    (txt)    - display the seed data to put in a TXT record\n")
		fmt.Printf("\n")

		fmt.Printf("  start                      (run)    - just run the program, same as no arguments\n")
		fmt.Printf("                                        for convenience when passing script arguments\n")
		fmt.Printf("\n")

		fmt.Printf("  config-test                (cfg)    - just check the configuration file\n")
		fmt.Printf("\n")

		exitwithstatus.Exit(1)
	}

	// indicate processing complete and perform normal exit from main
	return true
}

// configuration file enquiry commands
// have configuration file read and decoded, but nothing else
func processConfigCommand(arguments []string, options *Configuration) bool {

	command := "help"
	if len(arguments) > 0 {
		command = arguments[0]
	}

	switch command {
	case "dns-txt", "txt":
		dnsTXT(options)

	case "config-test", "cfg":
		b, err := json.Marshal(options)
		if nil != err {
			exitwithstatus.Message("error: %s", err)
		}
		var out bytes.Buffer
		json.Indent(&out, b, "", "  ")
		out.WriteTo(os.Stdout)
		os.Stdout.WriteString("\n")

	default: // unknown commands fall through to normal startup
		return false
	}

	// indicate processing complete and perform normal exit from main
	return true
}

// print out the DNS TXT record matching the seed tag format
func dnsTXT(options *Configuration) {
	//   <TAG> a=<IPv4;IPv6> p=<PORT> f=<SHA3-256(cert)>
	const txtRecord = `TXT "spanlink=v1 a=%s p=%d f=%x"` + "\n"

	peering := options.Peering

	if "" == peering.Announce {
		exitwithstatus.Message("error: no announce field given")
	}

	host, port, err := net.SplitHostPort(peering.Announce)
	if nil != err {
		exitwithstatus.Message("error: cannot split announce: %q error: %s", peering.Announce, err)
	}

	portNumber, err := strconv.Atoi(port)
	if nil != err || portNumber < 1 || portNumber > 65535 {
		exitwithstatus.Message("error: cannot determine announce port")
	}

	fingerprint, err := certificateFingerprint(peering.Certificate, peering.PrivateKey)
	if nil != err {
		exitwithstatus.Message("error: cannot decode certificate: %q error: %s", peering.Certificate, err)
	}

	fmt.Printf(txtRecord, host, portNumber, *fingerprint)
}

// expand an optional directory argument into a full file name
func getFilenameWithDirectory(arguments []string, name string) string {
	directory := "."
	if len(arguments) >= 1 && "" != arguments[0] {
		directory = arguments[0]
	}
	return filepath.Join(directory, name)
}

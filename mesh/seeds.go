// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh

import (
	"encoding/hex"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bitmark-inc/logger"
	"github.com/miekg/dns"

	"github.com/spanlink/spanlinkd/fault"
	"github.com/spanlink/spanlinkd/util"
)

// time interval for re-fetching the nodes domain
const seedInterval = 1 * time.Hour

// the tag to detect applicable TXT records from DNS
var supportedTags = map[string]struct{}{
	"spanlink=v1": {},
}

const fingerprintLength = 2 * 32 // hex characters

type tagline struct {
	ipv4        net.IP
	ipv6        net.IP
	port        uint16
	fingerprint util.FingerprintBytes
}

// decode DNS TXT records of this form
//
//   <TAG> a=<IPv4;IPv6> p=<PORT> f=<SHA3-256(cert)>
//
// other combinations or extraneous items are errors
func parseTag(s string) (*tagline, error) {

	t := &tagline{}

	countA := 0
	countF := 0
	countP := 0

words:
	for i, w := range strings.Split(strings.TrimSpace(s), " ") {

		if 0 == i {
			if _, ok := supportedTags[w]; ok {
				continue words
			}
			return nil, fault.InvalidDnsTxtRecord
		}

		// ignore empty
		if "" == w {
			continue words
		}

		// require form: <letter>=<word>
		if len(w) < 3 || '=' != w[1] {
			return nil, fault.InvalidDnsTxtRecord
		}

		parameter := w[2:]
		err := error(nil)
		switch w[0] {
		case 'a':
		addresses:
			for _, address := range strings.Split(parameter, ";") {
				if "" == address {
					err = fault.InvalidIpAddress
					break addresses
				}
				if '[' == address[0] {
					end := len(address) - 1
					if ']' == address[end] {
						address = address[1:end]
					}
				}
				IP := net.ParseIP(address)
				if nil == IP {
					err = fault.InvalidIpAddress
					break addresses
				}
				if nil != IP.To4() {
					t.ipv4 = IP
				} else {
					t.ipv6 = IP
				}
			}
			countA += 1

		case 'p':
			t.port, err = getPort(parameter)
			countP += 1

		case 'f':
			if len(parameter) != fingerprintLength {
				err = fault.InvalidFingerprint
			} else if _, e := hex.Decode(t.fingerprint[:], []byte(parameter)); nil != e {
				err = fault.InvalidFingerprint
			}
			countF += 1

		default:
			err = fault.InvalidDnsTxtRecord
		}
		if nil != err {
			return nil, err
		}
	}

	// ensure that there is only one each of the required items
	if countA != 1 || countF != 1 || countP != 1 {
		return nil, fault.InvalidDnsTxtRecord
	}

	return t, nil
}

func getPort(s string) (uint16, error) {

	port, err := strconv.Atoi(s)
	if nil != err {
		return 0, fault.InvalidPortNumber
	}
	if port < 1 || port > 65535 {
		return 0, fault.InvalidPortNumber
	}
	return uint16(port), nil
}

// background process re-fetching seed nodes from DNS
type nodesLookup struct {
	log         *logger.L
	nodesDomain string
}

func (n *nodesLookup) initialise(nodesDomain string) error {

	n.log = logger.New("nodeslookup")
	n.log.Info("initialising…")
	n.nodesDomain = nodesDomain

	if "" == nodesDomain {
		n.log.Info("no nodes domain configured")
	}
	return nil
}

func (n *nodesLookup) Run(args interface{}, shutdown <-chan struct{}) {

	if "" == n.nodesDomain {
		<-shutdown
		return
	}

	// first fetch happens here, not in initialise, so the mesh lock
	// is free when peers are added
	_ = lookupNodesDomain(n.nodesDomain, n.log)

	timer := time.After(getIntervalTime(n.nodesDomain, n.log))

loop:
	for {
		select {
		case <-timer:
			timer = time.After(getIntervalTime(n.nodesDomain, n.log))
			_ = lookupNodesDomain(n.nodesDomain, n.log)

		case <-shutdown:
			break loop
		}
	}
}

// getIntervalTime - interval until the next lookup
//
// the domain's SOA TTL shortens the default when it is lower
func getIntervalTime(domain string, log *logger.L) time.Duration {

	t := seedInterval

	configFile := "/etc/resolv.conf"
	conf, err := dns.ClientConfigFromFile(configFile)
	if nil != err {
		log.Errorf("reading %s error: %s", configFile, err)
		return t
	}

	if 0 == len(conf.Servers) {
		log.Error("cannot get dns name server")
		return t
	}

	// use the first dns name server
	server := net.JoinHostPort(conf.Servers[0], conf.Port)
	log.Debugf("DNS Name server: %s", server)

	c := dns.Client{}
	msg := dns.Msg{}
	msg.SetQuestion(domain+".", dns.TypeSOA)

	r, _, err := c.Exchange(&msg, server)
	if nil != err {
		log.Errorf("exchange with dns server error: %s", err)
		return t
	}

	if 0 == len(r.Ns) {
		log.Error("dns response has no authority section")
		return t
	}

	for _, ns := range r.Ns {
		if a, ok := ns.(*dns.SOA); ok {
			ttl := a.Hdr.Ttl
			if 0 < ttl {
				ttlSec := time.Duration(ttl) * time.Second
				if seedInterval > ttlSec {
					t = ttlSec
				}
			}
		}
	}

	log.Infof("time to re-fetch nodes domain: %v", t)
	return t
}

// lookupNodesDomain - fetch the TXT records and record seed endpoints
func lookupNodesDomain(domain string, log *logger.L) error {

	if "" == domain {
		log.Error("invalid node domain")
		return fault.InvalidNodeDomain
	}

	texts, err := net.LookupTXT(domain)
	if nil != err {
		log.Errorf("lookup TXT record error: %s", err)
		return err
	}

	// process DNS entries
	for i, t := range texts {
		t = strings.TrimSpace(t)
		tag, err := parseTag(t)
		if nil != err {
			log.Debugf("ignore TXT[%d]: %q  error: %s", i, t, err)
			continue
		}

		log.Infof("process TXT[%d]: %q", i, t)

		globalData.Lock()
		port := strconv.Itoa(int(tag.port))
		if nil != tag.ipv4 {
			addPeer(net.JoinHostPort(tag.ipv4.String(), port), tag.fingerprint)
		}
		if nil != tag.ipv6 {
			addPeer(net.JoinHostPort(tag.ipv6.String(), port), tag.fingerprint)
		}
		globalData.Unlock()
	}

	return nil
}

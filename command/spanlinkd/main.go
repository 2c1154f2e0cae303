// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitmark-inc/exitwithstatus"
	"github.com/bitmark-inc/getoptions"
	"github.com/bitmark-inc/listener"
	"github.com/bitmark-inc/logger"

	"github.com/spanlink/spanlinkd/mesh"
	"github.com/spanlink/spanlinkd/mode"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero" // do not change this value

// one server for a group of listen addresses
type serverChannel struct {
	// initial values
	limit               int
	addresses           []string
	certificateFileName string
	keyFileName         string
	callback            listener.Callback
	argument            interface{}

	// filled in by verifyListen
	tlsConfiguration *tls.Config
	limiter          *listener.Limiter
	listener         *listener.MultiListener
}

// main program
func main() {
	// ensure exit handler is first
	defer exitwithstatus.Handler()

	flags := []getoptions.Option{
		{Long: "help", HasArg: getoptions.NO_ARGUMENT, Short: 'h'},
		{Long: "verbose", HasArg: getoptions.NO_ARGUMENT, Short: 'v'},
		{Long: "quiet", HasArg: getoptions.NO_ARGUMENT, Short: 'q'},
		{Long: "version", HasArg: getoptions.NO_ARGUMENT, Short: 'V'},
		{Long: "config-file", HasArg: getoptions.REQUIRED_ARGUMENT, Short: 'c'},
	}

	program, options, arguments, err := getoptions.GetOS(flags)
	if nil != err {
		exitwithstatus.Message("%s: getoptions error: %s", program, err)
	}

	if len(options["version"]) > 0 {
		processSetupCommand(program, []string{"version"})
		return
	}

	if len(options["help"]) > 0 {
		processSetupCommand(program, []string{"help"})
		return
	}

	// these commands do not require the configuration
	if len(arguments) > 0 && processSetupCommand(program, arguments) {
		return
	}

	if 1 != len(options["config-file"]) {
		exitwithstatus.Message("%s: only one config-file option is required, %d were detected", program, len(options["config-file"]))
	}

	// read options and parse the configuration file
	configurationFile := options["config-file"][0]
	theConfiguration, err := getConfiguration(configurationFile)
	if nil != err {
		exitwithstatus.Message("%s: failed to read configuration from: %q  error: %s", program, configurationFile, err)
	}

	// these commands require the configuration and
	// perform enquiries on the configuration
	if len(arguments) > 0 && processConfigCommand(arguments, theConfiguration) {
		return
	}

	// start logging
	if err = logger.Initialise(theConfiguration.Logging); nil != err {
		exitwithstatus.Message("%s: logger setup failed with error: %s", program, err)
	}
	defer logger.Finalise()

	// create a logger channel for the main program
	log := logger.New("main")
	defer log.Info("finished")
	log.Info("starting…")
	log.Infof("version: %s", version)
	log.Debugf("theConfiguration: %v", theConfiguration)

	// ------------------
	// start of real main
	// ------------------

	// optional PID file
	// use if not running under a supervisor program like daemon(8)
	if "" != theConfiguration.PidFile {
		lockFile, err := os.OpenFile(theConfiguration.PidFile, os.O_WRONLY|os.O_EXCL|os.O_CREATE, os.ModeExclusive|0600)
		if nil != err {
			if os.IsExist(err) {
				exitwithstatus.Message("%s: another instance is already running", program)
			}
			exitwithstatus.Message("%s: PID file: %q creation failed, error: %s", program, theConfiguration.PidFile, err)
		}
		fmt.Fprintf(lockFile, "%d\n", os.Getpid())
		lockFile.Close()
		defer os.Remove(theConfiguration.PidFile)
	}

	// set the initial system mode - before any background tasks are started
	err = mode.Initialise()
	if nil != err {
		log.Criticalf("mode initialise error: %s", err)
		exitwithstatus.Message("mode initialise error: %s", err)
	}
	defer mode.Finalise()

	// connection info
	log.Debugf("%s = %#v", "Peering", theConfiguration.Peering)

	// validate peer server parameters
	server := &serverChannel{
		limit:               theConfiguration.Peering.MaximumConnections,
		addresses:           theConfiguration.Peering.Listen,
		certificateFileName: theConfiguration.Peering.Certificate,
		keyFileName:         theConfiguration.Peering.PrivateKey,
		callback:            peerCallback,
		argument: &serverArgument{
			log: logger.New("peer"),
		},
	}

	log.Info("validate: peer")
	fingerprint, ok := verifyListen(log, "peer", server)
	if !ok {
		log.Critical("invalid peer parameters")
		exitwithstatus.Exit(1)
	}
	if 0 == server.limit {
		log.Critical("peer listening is disabled by configuration")
		exitwithstatus.Message("peer listening is disabled by configuration")
	}

	log.Info("multi listener for: peer")
	ml, err := listener.NewMultiListener("peer", server.addresses, server.tlsConfiguration, server.limiter, server.callback)
	if nil != err {
		log.Critical("invalid peer listen addresses")
		exitwithstatus.Message("invalid peer listen addresses: %s", err)
	}
	server.listener = ml

	// where DNS TXT seed records come from
	nodesDomain := ""
	switch theConfiguration.Nodes {
	case "":
		log.Critical("nodes cannot be blank choose from: none or sub.domain.tld")
		exitwithstatus.Message("nodes cannot be blank choose from: none or sub.domain.tld")
	case "none":
		nodesDomain = "" // seed lookup disabled
	default:
		// domain names are complex to validate so just rely on
		// trying to fetch the TXT records for validation
		nodesDomain = theConfiguration.Nodes // just assume it is a domain name
	}

	// start up the mesh layer
	log.Info("initialise mesh")
	err = mesh.Initialise(&mesh.Parameters{
		Name:           theConfiguration.NodeName,
		Address:        theConfiguration.Peering.Announce,
		Fingerprint:    *fingerprint,
		Services:       theConfiguration.Services,
		NodesDomain:    nodesDomain,
		CacheDirectory: theConfiguration.CacheDirectory,
	})
	if nil != err {
		log.Criticalf("mesh initialise error: %s", err)
		exitwithstatus.Message("mesh initialise error: %s", err)
	}
	defer mesh.Finalise()

	// now start the listener - inbound links attach to the mesh
	log.Infof("starting server: peer  with: %v", server.argument)
	server.listener.Start(server.argument)
	defer server.listener.Stop()

	// start up the outbound connector
	conn := newConnector(&theConfiguration.Peering, *fingerprint)
	conn.start()
	defer conn.stop()

	// watch the configuration file for service changes
	watcher, err := newConfigWatcher(configurationFile, logger.New("watcher"))
	if nil != err {
		log.Criticalf("config watcher error: %s", err)
		exitwithstatus.Message("config watcher error: %s", err)
	}
	err = watcher.Start()
	if nil != err {
		log.Criticalf("config watcher start error: %s", err)
		exitwithstatus.Message("config watcher start error: %s", err)
	}
	defer watcher.Stop()

	// wait for CTRL-C before shutting down to allow manual testing
	if 0 == len(options["quiet"]) {
		fmt.Printf("\n\nWaiting for CTRL-C (SIGINT) or 'kill <pid>' (SIGTERM)…")
	}

	// turn Signals into channel messages
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.Infof("received signal: %v", sig)
	if 0 == len(options["quiet"]) {
		fmt.Printf("\nreceived signal: %v\n", sig)
		fmt.Printf("\nshutting down…\n")
	}

	log.Info("shutting down…")
	mode.Set(mode.Stopped)
}

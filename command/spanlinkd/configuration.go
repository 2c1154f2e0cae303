// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitmark-inc/logger"

	"github.com/spanlink/spanlinkd/configuration"
	"github.com/spanlink/spanlinkd/util"
)

// basic defaults (directories and files are relative to the "DataDirectory" from the configuration file)
const (
	defaultDataDirectory = "" // this will error; use "." for the same directory as the config file

	defaultCertificateFile = "peer.crt"
	defaultKeyFile         = "peer.key"

	defaultCacheDirectory = "cache"

	defaultLogDirectory = "log"
	defaultLogFile      = "spanlinkd.log"
	defaultLogCount     = 10          //  number of log files retained
	defaultLogSize      = 1024 * 1024 // rotate when <logfile> exceeds this size

	defaultPeerConnections = 64
)

// to hold log levels
type LoglevelMap map[string]string

// path expanded or calculated defaults
var (
	defaultLogLevels = LoglevelMap{
		logger.DefaultTag: "critical",
	}
)

// StaticConnection - one configured outbound peer
type StaticConnection struct {
	Address     string `gluamapper:"address" json:"address"`
	Fingerprint string `gluamapper:"fingerprint" json:"fingerprint"`
}

// PeeringType - transport settings for the link layer
type PeeringType struct {
	MaximumConnections int                `gluamapper:"maximum_connections" json:"maximum_connections"`
	Listen             []string           `gluamapper:"listen" json:"listen"`
	Announce           string             `gluamapper:"announce" json:"announce"`
	Connect            []StaticConnection `gluamapper:"connect" json:"connect"`
	Certificate        string             `gluamapper:"certificate" json:"certificate"`
	PrivateKey         string             `gluamapper:"private_key" json:"private_key"`
}

type Configuration struct {
	DataDirectory  string               `gluamapper:"data_directory" json:"data_directory"`
	PidFile        string               `gluamapper:"pidfile" json:"pidfile"`
	NodeName       string               `gluamapper:"node_name" json:"node_name"`
	Nodes          string               `gluamapper:"nodes" json:"nodes"`
	Services       []string             `gluamapper:"services" json:"services"`
	CacheDirectory string               `gluamapper:"cache_directory" json:"cache_directory"`
	Peering        PeeringType          `gluamapper:"peering" json:"peering"`
	Logging        logger.Configuration `gluamapper:"logging" json:"logging"`
}

// will read decode and verify the configuration
func getConfiguration(configurationFileName string) (*Configuration, error) {

	configurationFileName, err := filepath.Abs(filepath.Clean(configurationFileName))
	if nil != err {
		return nil, err
	}

	// absolute path to the main directory
	dataDirectory, _ := filepath.Split(configurationFileName)

	options := &Configuration{

		DataDirectory:  defaultDataDirectory,
		PidFile:        "", // no PidFile by default
		NodeName:       "",
		Nodes:          "none",
		CacheDirectory: defaultCacheDirectory,

		Peering: PeeringType{
			MaximumConnections: defaultPeerConnections,
			Certificate:        defaultCertificateFile,
			PrivateKey:         defaultKeyFile,
		},

		Logging: logger.Configuration{
			Directory: defaultLogDirectory,
			File:      defaultLogFile,
			Size:      defaultLogSize,
			Count:     defaultLogCount,
			Levels:    defaultLogLevels,
		},
	}

	if err := configuration.ParseConfigurationFile(configurationFileName, options); nil != err {
		return nil, err
	}

	if "" == options.NodeName {
		host, err := os.Hostname()
		if nil != err {
			return nil, err
		}
		options.NodeName = host
	}

	if "" != options.Peering.Announce {
		address, err := util.CanonicalIPandPort(options.Peering.Announce)
		if nil != err {
			return nil, fmt.Errorf("announce: %q error: %s", options.Peering.Announce, err)
		}
		options.Peering.Announce = address
	}

	// ensure absolute data directory
	if "" == options.DataDirectory || "~" == options.DataDirectory {
		return nil, fmt.Errorf("path: %q is not a valid directory", options.DataDirectory)
	} else if "." == options.DataDirectory {
		options.DataDirectory = dataDirectory // same directory as the configuration file
	} else {
		options.DataDirectory = filepath.Clean(options.DataDirectory)
	}

	// this directory must exist - i.e. must be created prior to running
	if fileInfo, err := os.Stat(options.DataDirectory); nil != err {
		return nil, err
	} else if !fileInfo.IsDir() {
		return nil, fmt.Errorf("path: %q is not a directory", options.DataDirectory)
	}

	// force all relevant items to be absolute paths
	// if not, assign them to the data directory
	mustBeAbsolute := []*string{
		&options.CacheDirectory,
		&options.Peering.Certificate,
		&options.Peering.PrivateKey,
		&options.Logging.Directory,
	}
	for _, f := range mustBeAbsolute {
		*f = util.EnsureAbsolute(options.DataDirectory, *f)
	}

	// optional absolute paths i.e. blank or an absolute path
	optionalAbsolute := []*string{
		&options.PidFile,
	}
	for _, f := range optionalAbsolute {
		if "" != *f {
			*f = util.EnsureAbsolute(options.DataDirectory, *f)
		}
	}

	// fail if not a simple file name i.e. must not contain a path separator
	switch filepath.Dir(options.Logging.File) {
	case "", ".":
	default:
		return nil, fmt.Errorf("files: %q is not plain name", options.Logging.File)
	}

	// make absolute and create directories if they do not already exist
	for _, d := range []*string{
		&options.CacheDirectory,
		&options.Logging.Directory,
	} {
		*d = util.EnsureAbsolute(options.DataDirectory, *d)
		if err := os.MkdirAll(*d, 0700); nil != err {
			return nil, err
		}
	}

	// done
	return options, nil
}

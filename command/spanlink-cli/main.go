// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/bitmark-inc/exitwithstatus"
)

type metadata struct {
	connect     string
	fingerprint string
	timeout     time.Duration
	verbose     bool
	e           io.Writer
	w           io.Writer
}

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero" // do not change this value

func main() {
	defer exitwithstatus.Handler()

	app := cli.NewApp()
	app.Name = "spanlink-cli"
	app.Usage = "query a running spanlinkd node"
	app.Version = version
	app.HideVersion = true

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " verbose result",
		},
		cli.StringFlag{
			Name:  "connect, c",
			Value: "",
			Usage: "*node host/IP and port, `HOST:PORT`",
		},
		cli.StringFlag{
			Name:  "fingerprint, f",
			Value: "",
			Usage: " expected certificate fingerprint `HEX`, unchecked if blank",
		},
		cli.DurationFlag{
			Name:  "timeout, t",
			Value: 10 * time.Second,
			Usage: " time limit for one request `DURATION`",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "ping",
			Usage:  "round trip a one-shot echo and print the time taken",
			Action: runPing,
		},
		{
			Name:   "status",
			Usage:  "print the node's view of this connection",
			Action: runShellCommand,
		},
		{
			Name:   "services",
			Usage:  "print every reachable service with distance and route",
			Action: runShellCommand,
		},
		{
			Name:   "links",
			Usage:  "print the node's attached links",
			Action: runShellCommand,
		},
		{
			Name:   "peers",
			Usage:  "print the node's known dialable endpoints",
			Action: runShellCommand,
		},
		{
			Name:      "shell",
			Usage:     "run one diagnostic command line on the node",
			ArgsUsage: "COMMAND [ARGUMENTS...]",
			Action:    runShell,
		},
	}
	app.Before = func(c *cli.Context) error {
		c.App.Metadata["config"] = &metadata{
			connect:     c.GlobalString("connect"),
			fingerprint: c.GlobalString("fingerprint"),
			timeout:     c.GlobalDuration("timeout"),
			verbose:     c.GlobalBool("verbose"),
			e:           app.ErrWriter,
			w:           app.Writer,
		}
		return nil
	}

	err := app.Run(os.Args)
	if nil != err {
		exitwithstatus.Message("terminated with error: %s", err)
	}
}

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli"

	"github.com/spanlink/spanlinkd/shell"
)

// status, services, links and peers are just fixed shell lines
func runShellCommand(c *cli.Context) error {
	return execute(c, c.Command.Name)
}

// free form: spanlink-cli shell COMMAND [ARGUMENTS...]
func runShell(c *cli.Context) error {

	line := strings.Join(c.Args(), " ")
	if "" == line {
		return fmt.Errorf("missing shell command")
	}
	return execute(c, line)
}

func execute(c *cli.Context, line string) error {

	m := c.App.Metadata["config"].(*metadata)

	l, err := connect(m)
	if nil != err {
		return err
	}
	defer l.Destroy()

	output, err := shell.Execute(l, line, m.timeout)
	if nil != err {
		return err
	}

	fmt.Fprintf(m.w, "%s", output)
	return nil
}

// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/spanlink/spanlinkd/mesh"
)

func runPing(c *cli.Context) error {

	m := c.App.Metadata["config"].(*metadata)

	l, err := connect(m)
	if nil != err {
		return err
	}
	defer l.Destroy()

	rtt, err := mesh.Ping(l, m.timeout)
	if nil != err {
		return err
	}

	fmt.Fprintf(m.w, "time: %s\n", rtt)
	return nil
}

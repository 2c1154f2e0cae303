// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault_test

import (
	"testing"

	"github.com/spanlink/spanlinkd/fault"
)

var (
	errExistsOne   = fault.ExistsError("exists one")
	errFrameOne    = fault.FrameError("frame one")
	errInvalidOne  = fault.InvalidError("invalid one")
	errLinkOne     = fault.LinkError("link one")
	errNotFoundOne = fault.NotFoundError("not found one")
	errProcessOne  = fault.ProcessError("process one")
	errProtocolOne = fault.ProtocolError("protocol one")
)

// test that the error classes can be distinguished
func TestClassification(t *testing.T) {
	errorList := []struct {
		err      error
		exists   bool
		frame    bool
		invalid  bool
		link     bool
		notFound bool
		process  bool
		protocol bool
	}{
		{errExistsOne, true, false, false, false, false, false, false},
		{errFrameOne, false, true, false, false, false, false, false},
		{errInvalidOne, false, false, true, false, false, false, false},
		{errLinkOne, false, false, false, true, false, false, false},
		{errNotFoundOne, false, false, false, false, true, false, false},
		{errProcessOne, false, false, false, false, false, true, false},
		{errProtocolOne, false, false, false, false, false, false, true},
		{fault.InvalidMagic, false, true, false, false, false, false, false},
		{fault.LinkLost, false, false, false, true, false, false, false},
		{fault.InvalidCommandFlags, false, false, false, false, false, false, true},
	}

	for i, e := range errorList {
		err := e.err
		if fault.IsErrExists(err) != e.exists {
			t.Errorf("%d: expected 'exists' == %v for err = %v", i, e.exists, err)
		}
		if fault.IsErrFrame(err) != e.frame {
			t.Errorf("%d: expected 'frame' == %v for err = %v", i, e.frame, err)
		}
		if fault.IsErrInvalid(err) != e.invalid {
			t.Errorf("%d: expected 'invalid' == %v for err = %v", i, e.invalid, err)
		}
		if fault.IsErrLink(err) != e.link {
			t.Errorf("%d: expected 'link' == %v for err = %v", i, e.link, err)
		}
		if fault.IsErrNotFound(err) != e.notFound {
			t.Errorf("%d: expected 'not found' == %v for err = %v", i, e.notFound, err)
		}
		if fault.IsErrProcess(err) != e.process {
			t.Errorf("%d: expected 'process' == %v for err = %v", i, e.process, err)
		}
		if fault.IsErrProtocol(err) != e.protocol {
			t.Errorf("%d: expected 'protocol' == %v for err = %v", i, e.protocol, err)
		}
	}
}

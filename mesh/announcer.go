// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mesh

import (
	"time"

	"github.com/bitmark-inc/logger"
)

const (
	announceInitial  = 1 * time.Minute
	announceInterval = 5 * time.Minute
)

// background process keeping advertisements alive
//
// sends a keep-alive on every relay we hold open so peers do not
// expire them, and re-runs reconciliation to retry anything the rate
// limiter deferred
type announcer struct {
	log *logger.L
}

// initialise the announcer
func (ann *announcer) initialise() error {

	ann.log = logger.New("announcer")
	ann.log.Info("initialising…")

	return nil
}

func (ann *announcer) Run(args interface{}, shutdown <-chan struct{}) {

	log := ann.log

	log.Info("starting…")

	delay := time.After(announceInitial)
loop:
	for {
		log.Debug("waiting…")
		select {
		case <-shutdown:
			break loop
		case <-delay:
			delay = time.After(announceInterval)
			ann.process()
		}
	}
}

func (ann *announcer) process() {

	log := ann.log

	log.Debug("process starting…")

	globalData.Lock()
	defer globalData.Unlock()

	for _, s := range globalData.sessions {
		for key, r := range s.relayed {
			if err := s.link.Update(r.state, nil); nil != err {
				log.Warnf("keep-alive on: %s  span: %s  error: %s", s.link.Name(), key, err)
			}
		}
	}

	reconcile()
}

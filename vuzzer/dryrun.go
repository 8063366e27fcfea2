// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vuzzer

import (
	"log"

	"github.com/bradleyjkemp/grammar-fuzz/feedback"
	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
)

// dryRunRandomIters is how many fully randomized inputs calibrate the
// error-handling block set (two passes of 30 random creates upstream).
const dryRunRandomIters = 60

// PerformDryRun calibrates the block sets before fuzzing starts: every
// valid seed's coverage becomes good basic blocks, blocks reached only by
// randomized garbage become error-handling blocks, and each seed's taint
// map is recorded for the mutators.
func (s *State) PerformDryRun() error {
	if len(s.PendingQueue) < 3 {
		return fuzzerr.Newf(fuzzerr.FatalConfig, "not sufficient initial files: %d", len(s.PendingQueue))
	}

	var status feedback.ExitStatus
	for _, tc := range s.PendingQueue {
		buf, err := tc.Load()
		if err != nil {
			return err
		}
		fb, err := s.RunExecutor(buf, &status)
		if err != nil {
			return err
		}
		for addr := range feedback.ParseBBCov(fb) {
			s.GoodBBs[addr] = struct{}{}
		}
		tc.Unload()
	}
	if s.Setting.Verbose >= 1 {
		log.Printf("dry run: %d good basic blocks", len(s.GoodBBs))
	}

	for i := 0; i < dryRunRandomIters; i++ {
		tc := s.PendingQueue[s.rng.Intn(len(s.PendingQueue))]
		buf, err := tc.Load()
		if err != nil {
			return err
		}
		m := NewMutator(s, s.rng, buf)
		m.TotallyRandom()

		fb, err := s.RunExecutor(m.Buf(), &status)
		if err != nil {
			return err
		}
		for addr := range feedback.ParseBBCov(fb) {
			if _, good := s.GoodBBs[addr]; !good {
				s.EHB[addr] = struct{}{}
			}
		}
		tc.Unload()
	}
	if s.Setting.Verbose >= 1 {
		log.Printf("dry run: %d error-handling blocks", len(s.EHB))
	}

	for _, tc := range s.PendingQueue {
		buf, err := tc.Load()
		if err != nil {
			return err
		}
		fb, err := s.RunTaintExecutor(buf, &status)
		if err != nil {
			return err
		}
		tc.Taint = feedback.ParseTaint(fb)
		tc.Unload()
	}

	return nil
}

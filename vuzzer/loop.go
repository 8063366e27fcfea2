// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vuzzer

import (
	"log"
	"os"

	"github.com/bradleyjkemp/grammar-fuzz/feedback"
)

// OneLoop runs a single fuzzing iteration: selection, error-handling-block
// probing, execution with fitness update and population trim, taint
// collection, mutation, and queue rotation. The stop flag is consulted at
// the loop boundary and between inputs in the execution, taint and
// mutation passes.
func (s *State) OneLoop() error {
	if s.Stopped() {
		return nil
	}

	s.decideKeep()
	s.runEHB()

	if err := s.executeAndScore(); err != nil {
		return err
	}
	s.trimQueue()

	if err := s.executeTaint(); err != nil {
		return err
	}

	if err := s.mutate(); err != nil {
		return err
	}

	s.updateQueue()
	return nil
}

// decideKeep marks the fittest testcases as keepers for this round. Keepers
// survive the trim unconditionally; the rest compete on fitness.
func (s *State) decideKeep() {
	sortByFitness(s.PendingQueue)
	for i, tc := range s.PendingQueue {
		tc.keep = i < s.Setting.KeepNum
	}
}

// runEHB re-runs the first EHBRunNum testcases of the fitness-sorted queue
// and counts the distinct error-handling blocks each one reaches; the count
// feeds the fitness penalty.
func (s *State) runEHB() {
	n := s.Setting.EHBRunNum
	if n > len(s.PendingQueue) {
		n = len(s.PendingQueue)
	}
	var status feedback.ExitStatus
	for _, tc := range s.PendingQueue[:n] {
		buf, err := tc.Load()
		if err != nil {
			log.Printf("vuzzer: %v", err)
			continue
		}
		fb, err := s.RunExecutor(buf, &status)
		if err != nil {
			log.Printf("vuzzer: %v", err)
			continue
		}
		tc.ehbHits = 0
		for addr := range feedback.ParseBBCov(fb) {
			if _, bad := s.EHB[addr]; bad {
				tc.ehbHits++
			}
		}
		tc.Unload()
	}
}

// executeAndScore runs every pending testcase under coverage and refreshes
// its fitness. Per-input failures are logged and the input scored zero.
func (s *State) executeAndScore() error {
	var status feedback.ExitStatus
	for _, tc := range s.PendingQueue {
		if s.Stopped() {
			return nil
		}
		buf, err := tc.Load()
		if err != nil {
			log.Printf("vuzzer: %v", err)
			tc.Fitness = 0
			continue
		}
		fb, err := s.RunExecutor(buf, &status)
		if err != nil {
			log.Printf("vuzzer: %v", err)
			tc.Fitness = 0
			continue
		}
		tc.cov = feedback.ParseBBCov(fb)
		tc.Fitness = s.FitnessFn(tc.cov, tc.ehbHits)
		tc.Unload()
	}
	return nil
}

// trimQueue caps the population at pop_size by fitness rank; keepers are
// exempt. Culled entries lose their corpus file.
func (s *State) trimQueue() {
	if len(s.PendingQueue) <= s.Setting.PopSize {
		return
	}
	sortByFitness(s.PendingQueue)

	kept := s.PendingQueue[:0]
	dropped := 0
	for _, tc := range s.PendingQueue {
		if tc.keep || len(kept) < s.Setting.PopSize {
			kept = append(kept, tc)
			continue
		}
		dropped++
		if err := os.Remove(tc.Path); err != nil && !os.IsNotExist(err) {
			log.Printf("vuzzer: cannot remove culled entry %s: %v", tc.Path, err)
		}
	}
	s.PendingQueue = kept
	if s.Setting.Verbose >= 1 && dropped > 0 {
		log.Printf("trim queue: dropped %d, population %d", dropped, len(s.PendingQueue))
	}
}

// executeTaint refreshes the taint maps of the fittest testcases.
func (s *State) executeTaint() error {
	n := s.Setting.TaintRunNum
	if n > len(s.PendingQueue) {
		n = len(s.PendingQueue)
	}
	var status feedback.ExitStatus
	for _, tc := range s.PendingQueue[:n] {
		if s.Stopped() {
			return nil
		}
		buf, err := tc.Load()
		if err != nil {
			log.Printf("vuzzer: %v", err)
			continue
		}
		fb, err := s.RunTaintExecutor(buf, &status)
		if err != nil {
			log.Printf("vuzzer: %v", err)
			continue
		}
		tc.Taint = feedback.ParseTaint(fb)
		tc.Unload()
	}
	return nil
}

// mutate breeds the next generation: crossover between keepers, taint-based
// steering, and dictionary-informed random edits.
func (s *State) mutate() error {
	if len(s.PendingQueue) == 0 {
		return nil
	}
	for i := 0; i < s.Setting.MutateNum; i++ {
		if s.Stopped() {
			return nil
		}
		p0 := s.PendingQueue[s.rng.Intn(len(s.PendingQueue))]
		buf0, err := p0.Load()
		if err != nil {
			log.Printf("vuzzer: %v", err)
			continue
		}

		if s.rng.Float64() < s.Setting.FillSeedsWithCrossoverProb && len(s.PendingQueue) > 1 &&
			i+1 < s.Setting.MutateNum {
			p1 := s.PendingQueue[s.rng.Intn(len(s.PendingQueue))]
			buf1, err := p1.Load()
			if err != nil {
				log.Printf("vuzzer: %v", err)
				continue
			}
			m := NewMutator(s, s.rng, buf0)
			child1, child2 := m.CrossOver(buf1)

			m1 := NewMutator(s, s.rng, child1)
			m1.TaintBasedChange(p0.Taint)
			m2 := NewMutator(s, s.rng, child2)
			m2.TaintBasedChange(p1.Taint)
			p1.Unload()

			if err := s.AddToQueue(&s.PendingQueue, s.nextQueuePath(), m1.Buf()); err != nil {
				return err
			}
			if err := s.AddToQueue(&s.PendingQueue, s.nextQueuePath(), m2.Buf()); err != nil {
				return err
			}
			i++ // two children consumed two slots
		} else {
			m := NewMutator(s, s.rng, buf0)
			m.MutateRandom()
			m.TaintBasedChange(p0.Taint)
			if err := s.AddToQueue(&s.PendingQueue, s.nextQueuePath(), m.Buf()); err != nil {
				return err
			}
		}
		p0.Unload()
	}
	return nil
}

// updateQueue commits the round: newly bred children are already pending;
// the queued-path counter keeps rolling so identifiers stay unique.
func (s *State) updateQueue() {
	if s.Setting.Verbose >= 1 {
		log.Printf("round done: population=%d queued_paths=%d good_bbs=%d ehb=%d",
			len(s.PendingQueue), s.QueuedPaths, len(s.GoodBBs), len(s.EHB))
	}
}

// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vuzzer

import "log"

// FillSeeds grows the pending queue by size new seeds derived from the
// initial ones: crossover of two parents (with the configured probability,
// while at least two slots remain) or random mutation of one, followed by
// taint-based mutation either way.
func (s *State) FillSeeds(size int) error {
	initial := append([]*Testcase(nil), s.PendingQueue...)
	if s.Setting.Verbose >= 1 {
		log.Printf("fill seeds: generating %d", size)
	}

	for added := 0; added < size; {
		if s.rng.Float64() < s.Setting.FillSeedsWithCrossoverProb && size-added > 1 {
			p0 := initial[s.rng.Intn(len(initial))]
			p1 := initial[s.rng.Intn(len(initial))]
			buf0, err := p0.Load()
			if err != nil {
				return err
			}
			buf1, err := p1.Load()
			if err != nil {
				return err
			}

			crossover := NewMutator(s, s.rng, buf0)
			child1, child2 := crossover.CrossOver(buf1)

			m1 := NewMutator(s, s.rng, child1)
			m1.TaintBasedChange(p0.Taint)
			m2 := NewMutator(s, s.rng, child2)
			m2.TaintBasedChange(p1.Taint)

			p0.Unload()
			p1.Unload()

			if err := s.AddToQueue(&s.PendingQueue, s.nextQueuePath(), m1.Buf()); err != nil {
				return err
			}
			if err := s.AddToQueue(&s.PendingQueue, s.nextQueuePath(), m2.Buf()); err != nil {
				return err
			}
			added += 2
		} else {
			parent := initial[s.rng.Intn(len(initial))]
			buf, err := parent.Load()
			if err != nil {
				return err
			}

			m := NewMutator(s, s.rng, buf)
			m.MutateRandom()
			m.TaintBasedChange(parent.Taint)

			if err := s.AddToQueue(&s.PendingQueue, s.nextQueuePath(), m.Buf()); err != nil {
				return err
			}

			parent.Unload()
			added++
		}
	}
	return nil
}

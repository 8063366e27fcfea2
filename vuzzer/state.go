// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package vuzzer is the taint- and weight-guided evolutionary fuzzing
// engine: dry-run calibration of good vs error-handling basic blocks,
// seed population filling, fitness-scored selection, and the mutation
// pipeline.
package vuzzer

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/bradleyjkemp/grammar-fuzz/dict"
	"github.com/bradleyjkemp/grammar-fuzz/feedback"
	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
)

// State owns the corpus, the calibration sets, and everything a fuzzing
// round reads or writes. Single driving thread only.
type State struct {
	Setting Setting

	PendingQueue []*Testcase
	SeedQueue    []*Testcase // the user-provided initial seeds

	GoodBBs map[uint64]struct{}
	EHB     map[uint64]struct{}

	BBWeights map[uint64]float64

	FullDict   [][]byte
	UniqueDict [][]byte
	AllDicts   [][][]byte

	QueuedPaths uint32

	// FitnessFn scores one execution; it must be monotone in weighted
	// basic-block coverage. Replaceable for experiments.
	FitnessFn func(cov map[uint64]uint32, ehbHits int) float64

	executor      feedback.Executor
	taintExecutor feedback.TaintExecutor
	rng           *rand.Rand

	stop atomic.Bool
}

// highChars and allChars are the built-in dictionary fallbacks used when no
// static-analysis dictionary is available.
var (
	highChars = [][]byte{{0xff}, {0xfe}, {0x80}, {0x7f}}
	allChars  = [][]byte{{0x00}, {0x01}, {0x20}, {0x41}, {0x61}, {0xff}}
)

// NewState parses the BB-weight table, loads the dictionaries, and builds
// the dictionary preference order.
func NewState(setting Setting, exec feedback.Executor, taintExec feedback.TaintExecutor, rng *rand.Rand) (*State, error) {
	s := &State{
		Setting:       setting,
		GoodBBs:       make(map[uint64]struct{}),
		EHB:           make(map[uint64]struct{}),
		BBWeights:     make(map[uint64]float64),
		executor:      exec,
		taintExecutor: taintExec,
		rng:           rng,
	}
	s.FitnessFn = s.defaultFitness

	if setting.WeightFile != "" {
		weights, err := ParseBBWeights(setting.WeightFile)
		if err != nil {
			return nil, err
		}
		s.BBWeights = weights
	}

	onDictError := func(msg string) { log.Printf("dictionary: %v", msg) }
	var err error
	if setting.FullDict != "" {
		if s.FullDict, err = dict.Load(setting.FullDict, onDictError); err != nil {
			return nil, fuzzerr.WithPath(fuzzerr.FatalConfig, setting.FullDict, "cannot load full dictionary")
		}
	}
	if setting.UniqueDict != "" {
		if s.UniqueDict, err = dict.Load(setting.UniqueDict, onDictError); err != nil {
			return nil, fuzzerr.WithPath(fuzzerr.FatalConfig, setting.UniqueDict, "cannot load unique dictionary")
		}
	}

	// Preference order: the full dictionary is sampled twice as often when
	// present; otherwise fall back to the unique dictionary, then to plain
	// byte sets.
	switch {
	case len(s.FullDict) > 0:
		s.AllDicts = [][][]byte{s.FullDict, s.FullDict, highChars, s.UniqueDict}
	case len(s.UniqueDict) > 0:
		s.AllDicts = [][][]byte{s.UniqueDict, s.UniqueDict, highChars}
	default:
		s.AllDicts = [][][]byte{allChars}
	}

	if err := os.MkdirAll(filepath.Join(setting.OutDir, "queue"), 0755); err != nil {
		return nil, fuzzerr.WithPath(fuzzerr.IOFailure, setting.OutDir, "cannot create output directory")
	}
	return s, nil
}

// ReadTestcases loads every file under inDir as an initial seed.
func (s *State) ReadTestcases(inDir string) error {
	entries, err := os.ReadDir(inDir)
	if err != nil {
		return fuzzerr.WithPath(fuzzerr.FatalConfig, inDir, "cannot read seed directory")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		tc := NewTestcase(filepath.Join(inDir, e.Name()))
		s.PendingQueue = append(s.PendingQueue, tc)
		s.SeedQueue = append(s.SeedQueue, tc)
	}
	return nil
}

// AddToQueue persists buf at path and appends the testcase to q.
func (s *State) AddToQueue(q *[]*Testcase, path string, buf []byte) error {
	if err := os.WriteFile(path, buf, 0600); err != nil {
		return fuzzerr.WithPath(fuzzerr.IOFailure, path, "cannot save testcase")
	}
	*q = append(*q, newTestcaseBuf(path, buf))
	s.QueuedPaths++
	return nil
}

// nextQueuePath names the next corpus entry: out_dir/queue/id:NNNNNN.
func (s *State) nextQueuePath() string {
	return filepath.Join(s.Setting.OutDir, "queue", fmt.Sprintf("id:%06d", s.QueuedPaths))
}

// RunExecutor executes one input under the coverage probe.
func (s *State) RunExecutor(buf []byte, status *feedback.ExitStatus) (feedback.Feedback, error) {
	return s.executor.Run(buf, status)
}

// RunTaintExecutor executes one input under the taint probe.
func (s *State) RunTaintExecutor(buf []byte, status *feedback.ExitStatus) (feedback.Feedback, error) {
	return s.taintExecutor.RunTaint(buf, status)
}

// ReceiveStopSignal flags the loop to stop at the next cooperative
// checkpoint. Safe to call from a signal handler.
func (s *State) ReceiveStopSignal() { s.stop.Store(true) }

// Stopped reports whether a stop was requested.
func (s *State) Stopped() bool { return s.stop.Load() }

// defaultFitness scores weighted basic-block coverage, penalized per
// error-handling block hit. Unknown blocks weigh 1.
func (s *State) defaultFitness(cov map[uint64]uint32, ehbHits int) float64 {
	fit := 0.0
	for addr, count := range cov {
		if _, bad := s.EHB[addr]; bad {
			continue
		}
		w := 1.0
		if bw, ok := s.BBWeights[addr]; ok {
			w = bw
		}
		fit += w * log2(1+float64(count))
	}
	return fit - s.Setting.EHBPenalty*float64(ehbHits)
}

// sortByFitness orders q best-first.
func sortByFitness(q []*Testcase) {
	sort.SliceStable(q, func(i, j int) bool {
		return q[i].Fitness > q[j].Fitness
	})
}

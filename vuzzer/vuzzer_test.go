// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vuzzer

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradleyjkemp/grammar-fuzz/feedback"
	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
)

// stubExecutor serves canned probe feedback keyed on the input bytes.
type stubExecutor struct {
	fn func(data []byte) []byte
}

func (s stubExecutor) Run(data []byte, status *feedback.ExitStatus) (feedback.Feedback, error) {
	*status = feedback.ExitStatus{Reason: feedback.ExitNone}
	return feedback.Feedback{Raw: s.fn(data)}, nil
}

func (s stubExecutor) RunTaint(data []byte, status *feedback.ExitStatus) (feedback.Feedback, error) {
	return s.Run(data, status)
}

var seedContents = [][]byte{
	[]byte("seed-one"),
	[]byte("seed-two"),
	[]byte("seed-three"),
}

func isSeed(data []byte) bool {
	for _, s := range seedContents {
		if bytes.Equal(data, s) {
			return true
		}
	}
	return false
}

func newTestState(t *testing.T) *State {
	t.Helper()
	outDir := t.TempDir()
	inDir := t.TempDir()
	for i, content := range seedContents {
		require.NoError(t, os.WriteFile(filepath.Join(inDir, fmt.Sprintf("seed%d", i)), content, 0644))
	}

	setting := DefaultSetting()
	setting.OutDir = outDir
	setting.InDir = inDir
	setting.PopSize = 10
	setting.MutateNum = 4

	cov := stubExecutor{fn: func(data []byte) []byte {
		if isSeed(data) {
			return []byte("0x100:1\n0x200:1\n")
		}
		return []byte("0x100:1\n0x300:1\n")
	}}
	taint := stubExecutor{fn: func(data []byte) []byte {
		return []byte("0:65,66\n1:67\n")
	}}

	s, err := NewState(setting, cov, taint, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.NoError(t, s.ReadTestcases(inDir))
	return s
}

func TestDryRunRequiresThreeSeeds(t *testing.T) {
	s := newTestState(t)
	s.PendingQueue = s.PendingQueue[:2]

	err := s.PerformDryRun()
	require.Error(t, err)
	assert.True(t, fuzzerr.IsKind(err, fuzzerr.FatalConfig))
}

func TestDryRunCalibratesBlockSets(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.PerformDryRun())

	assert.Equal(t, map[uint64]struct{}{0x100: {}, 0x200: {}}, s.GoodBBs)
	// Blocks reached only by randomized garbage become error handlers.
	assert.Equal(t, map[uint64]struct{}{0x300: {}}, s.EHB)

	for _, tc := range s.PendingQueue {
		require.NotNil(t, tc.Taint)
		assert.Equal(t, []byte{65, 66}, tc.Taint[0])
		assert.Equal(t, []byte{67}, tc.Taint[1])
	}
}

func TestFillSeeds(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.PerformDryRun())

	before := len(s.PendingQueue)
	require.NoError(t, s.FillSeeds(7))
	assert.Equal(t, before+7, len(s.PendingQueue))
	assert.Equal(t, uint32(7), s.QueuedPaths)

	// Generated seeds are persisted under out_dir/queue with dense ids.
	for i := 0; i < 7; i++ {
		path := filepath.Join(s.Setting.OutDir, "queue", fmt.Sprintf("id:%06d", i))
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
}

func TestFitnessMonotonicity(t *testing.T) {
	s := newTestState(t)
	s.EHB[0x300] = struct{}{}

	small := map[uint64]uint32{0x100: 1}
	large := map[uint64]uint32{0x100: 1, 0x200: 4}

	assert.Greater(t, s.FitnessFn(large, 0), s.FitnessFn(small, 0))
	// EHB coverage is not rewarded, and hits are penalized.
	withEHB := map[uint64]uint32{0x100: 1, 0x300: 9}
	assert.Equal(t, s.FitnessFn(small, 0), s.FitnessFn(withEHB, 0))
	assert.Less(t, s.FitnessFn(small, 2), s.FitnessFn(small, 0))
}

func TestFitnessUsesWeights(t *testing.T) {
	s := newTestState(t)
	s.BBWeights[0x200] = 10

	plain := map[uint64]uint32{0x100: 1}
	weighted := map[uint64]uint32{0x200: 1}
	assert.Greater(t, s.FitnessFn(weighted, 0), s.FitnessFn(plain, 0))
}

func TestTrimQueueCapsPopulation(t *testing.T) {
	s := newTestState(t)
	s.Setting.PopSize = 5
	s.Setting.KeepNum = 2

	for i := 0; i < 12; i++ {
		path := filepath.Join(s.Setting.OutDir, "queue", fmt.Sprintf("extra%02d", i))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
		tc := NewTestcase(path)
		tc.Fitness = float64(i)
		s.PendingQueue = append(s.PendingQueue, tc)
	}

	s.decideKeep()
	s.trimQueue()
	assert.Len(t, s.PendingQueue, 5)

	// Best-first after trim.
	for i := 1; i < len(s.PendingQueue); i++ {
		assert.GreaterOrEqual(t, s.PendingQueue[i-1].Fitness, s.PendingQueue[i].Fitness)
	}
}

func TestOneLoopGrowsAndBounds(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.PerformDryRun())
	require.NoError(t, s.FillSeeds(s.Setting.PopSize - len(s.PendingQueue)))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.OneLoop())
		assert.LessOrEqual(t, len(s.PendingQueue), s.Setting.PopSize+s.Setting.KeepNum+2*s.Setting.MutateNum)
	}
}

func TestStopFlag(t *testing.T) {
	s := newTestState(t)
	assert.False(t, s.Stopped())
	s.ReceiveStopSignal()
	assert.True(t, s.Stopped())
	// A stopped loop is a no-op.
	before := len(s.PendingQueue)
	require.NoError(t, s.OneLoop())
	assert.Equal(t, before, len(s.PendingQueue))
}

func TestMutatorTotallyRandomKeepsLength(t *testing.T) {
	s := newTestState(t)
	m := NewMutator(s, s.rng, []byte("abcdef"))
	m.TotallyRandom()
	assert.Len(t, m.Buf(), 6)
}

func TestMutatorCrossOverSwapsTails(t *testing.T) {
	s := newTestState(t)
	a := []byte("aaaaaaaa")
	b := []byte("bbbb")
	m := NewMutator(s, s.rng, a)
	c1, c2 := m.CrossOver(b)

	// A single cut point swaps the tails, so the lengths swap too.
	assert.Len(t, c1, len(b))
	assert.Len(t, c2, len(a))
	assert.Equal(t, byte('a'), c1[0])
	assert.Equal(t, byte('b'), c2[0])
}

func TestMutatorTaintBasedChange(t *testing.T) {
	s := newTestState(t)
	taint := map[int][]byte{0: {0x41}, 2: {0x42, 0x43}, 99: {0x44}}
	orig := []byte("xyz")

	m := NewMutator(s, s.rng, orig)
	m.TaintBasedChange(taint)
	buf := m.Buf()

	assert.Len(t, buf, 3)
	assert.Contains(t, []byte{'x', 0x41}, buf[0])
	assert.Equal(t, byte('y'), buf[1])
	assert.Contains(t, []byte{'z', 0x42, 0x43}, buf[2])
	// The source buffer is never mutated.
	assert.Equal(t, "xyz", string(orig))
}

func TestMutatorMutateRandomStaysBounded(t *testing.T) {
	s := newTestState(t)
	for i := 0; i < 50; i++ {
		m := NewMutator(s, s.rng, []byte("some input buffer"))
		m.MutateRandom()
		assert.NotEmpty(t, m.Buf())
		assert.LessOrEqual(t, len(m.Buf()), maxGrow)
	}
}

func TestParseBBWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n0x400 1.5\n500 2\n"), 0644))

	w, err := ParseBBWeights(path)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]float64{0x400: 1.5, 0x500: 2}, w)

	require.NoError(t, os.WriteFile(path, []byte("0x400\n"), 0644))
	_, err = ParseBBWeights(path)
	require.Error(t, err)
	assert.True(t, fuzzerr.IsKind(err, fuzzerr.FatalConfig))
}

func TestLoadSetting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
out_dir: /tmp/out
pop_size: 42
fill_seeds_with_crossover_prob: 0.25
`), 0644))

	s, err := LoadSetting(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", s.OutDir)
	assert.Equal(t, 42, s.PopSize)
	assert.Equal(t, 0.25, s.FillSeedsWithCrossoverProb)
	// Unset knobs keep their defaults.
	assert.Equal(t, DefaultSetting().MutateNum, s.MutateNum)
}

func TestLoadSettingRejectsMissingOutDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pop_size: 5\n"), 0644))

	_, err := LoadSetting(path)
	require.Error(t, err)
	assert.True(t, fuzzerr.IsKind(err, fuzzerr.FatalConfig))
}

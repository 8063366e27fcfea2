// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package nautilus drives the grammar engine: it generates seed trees,
// processes the coverage queue in LIFO order, minimizes fresh inputs, and
// breeds structured derivatives through the tree mutators.
package nautilus

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/bradleyjkemp/grammar-fuzz/feedback"
	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
	"github.com/bradleyjkemp/grammar-fuzz/grammar"
	"github.com/bradleyjkemp/grammar-fuzz/hashutil"
	"github.com/bradleyjkemp/grammar-fuzz/queue"
)

const syncPeriod = 3 * time.Second

// Config carries the grammar-engine knobs.
type Config struct {
	WorkDir string

	TreeBudget  int // node budget for generated seed trees
	GenerateNum int // fresh seeds generated per round
	RandomMuts  int // random mutation proposals per processed input
	MinimizeWin int // node window processed per minimization step
	ChunkCap    int // chunk-store entries per rule

	Verbose int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig(workDir string) Config {
	return Config{
		WorkDir:     workDir,
		TreeBudget:  200,
		GenerateNum: 50,
		RandomMuts:  100,
		MinimizeWin: 64,
		ChunkCap:    50,
	}
}

// Fuzzer owns the queue, chunk store, and mutator, and talks to the
// external executor. Single driving thread only.
type Fuzzer struct {
	cfg   Config
	ctx   *grammar.Context
	start grammar.NTermID

	queue *queue.Queue
	cks   *grammar.ChunkStore
	mut   *grammar.Mutator
	exec  feedback.Executor
	rng   *rand.Rand

	execs       uint64
	crashers    uint64
	suppressed  map[string]struct{}
	scratch     *grammar.Tree
	startTime   time.Time
	lastSync    time.Time
	lastNewPath time.Time
}

// New wires up a fuzzer. The grammar context must already be initialized.
func New(cfg Config, gctx *grammar.Context, start grammar.NTermID,
	exec feedback.Executor, rng *rand.Rand) (*Fuzzer, error) {
	q, err := queue.New(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(cfg.WorkDir, "crashes"), 0755); err != nil {
		return nil, fuzzerr.WithPath(fuzzerr.IOFailure, cfg.WorkDir, "cannot create crash directory")
	}
	return &Fuzzer{
		cfg:        cfg,
		ctx:        gctx,
		start:      start,
		queue:      q,
		cks:        grammar.NewChunkStore(cfg.ChunkCap),
		mut:        grammar.NewMutator(rng),
		exec:       exec,
		rng:        rng,
		suppressed: make(map[string]struct{}),
		scratch:    &grammar.Tree{},
		startTime:  time.Now(),
		lastNewPath: time.Now(),
	}, nil
}

// Queue exposes the corpus for inspection.
func (f *Fuzzer) Queue() *queue.Queue { return f.queue }

// RunOnce performs one cooperative step: process the next pending input,
// or rotate the round and replenish with generated seeds when the queue
// drains. ctx cancellation is honored at this boundary.
func (f *Fuzzer) RunOnce(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.broadcastStats()

	if f.queue.IsEmpty() {
		f.queue.NewRound()
		return f.generateSeeds(ctx, f.cfg.GenerateNum)
	}

	item := f.queue.Pop()
	f.processItem(ctx, &item)
	return f.queue.Finished(item)
}

// generateSeeds derives fresh trees from the start nonterminal and feeds
// them through the executor into the queue.
func (f *Fuzzer) generateSeeds(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.scratch.GenerateFromNT(f.rng, f.start, f.cfg.TreeBudget, f.ctx)
		tree := f.scratch.Clone()

		bits, status, execTime, err := f.execute(tree.Unparse(f.ctx))
		if err != nil {
			log.Printf("nautilus: %v", err)
			continue
		}
		if err := f.queue.Add(tree, bits, status.Reason, f.ctx, execTime); err != nil {
			log.Printf("nautilus: %v", err)
		}
	}
	return nil
}

// processItem runs the mutation schedule on one popped input. Inputs that
// entered the queue with fresh bits are minimized first; afterwards the
// deterministic rules pass and the random passes propose derivatives.
func (f *Fuzzer) processItem(ctx context.Context, item *queue.Item) {
	if len(item.FreshBits) > 0 {
		f.minimize(ctx, item)
	}

	keepTester := func(tm *grammar.TreeMutation, gctx *grammar.Context) {
		f.tryMutation(tm, gctx)
	}

	f.mut.MutRules(item.Tree, f.ctx, 0, item.Tree.Size(), keepTester)

	recursions := item.Tree.CalcRecursions(f.ctx)
	for i := 0; i < f.cfg.RandomMuts; i++ {
		if ctx.Err() != nil {
			return
		}
		switch f.rng.Intn(3) {
		case 0:
			f.mut.MutSplice(item.Tree, f.ctx, f.cks, keepTester)
		case 1:
			f.mut.MutRandom(item.Tree, f.ctx, keepTester)
		case 2:
			f.mut.MutRandomRecursion(item.Tree, recursions, f.ctx, keepTester)
		}
	}

	f.cks.Record(item.Tree.Clone(), f.ctx)
}

// minimize shrinks the item's tree while all its fresh bits stay covered:
// subtree minimization first, then recursive minimization, both stepped in
// windows so the loop stays responsive.
func (f *Fuzzer) minimize(ctx context.Context, item *queue.Item) {
	stillCovers := func(tm *grammar.TreeMutation, bits map[int]struct{}, gctx *grammar.Context) bool {
		got, _, _, err := f.execute(grammar.Unparse(tm, gctx))
		if err != nil {
			log.Printf("nautilus: %v", err)
			return false
		}
		for bit := range bits {
			if bit >= len(got) || got[bit] == 0 {
				return false
			}
		}
		return true
	}

	for start := 0; ctx.Err() == nil; start += f.cfg.MinimizeWin {
		if f.mut.MinimizeTree(item.Tree, item.FreshBits, f.ctx, start, start+f.cfg.MinimizeWin, stillCovers) {
			break
		}
	}
	for start := 0; ctx.Err() == nil; start += f.cfg.MinimizeWin {
		if f.mut.MinimizeRec(item.Tree, item.FreshBits, f.ctx, start, start+f.cfg.MinimizeWin, stillCovers) {
			break
		}
	}
}

// tryMutation executes one proposed derivative and admits it to the queue
// when it brings fresh coverage. Crashers are persisted separately.
func (f *Fuzzer) tryMutation(tm *grammar.TreeMutation, gctx *grammar.Context) {
	data := grammar.Unparse(tm, gctx)
	bits, status, execTime, err := f.execute(data)
	if err != nil {
		log.Printf("nautilus: %v", err)
		return
	}
	if status.Reason == feedback.ExitCrash {
		f.noteCrasher(data, status)
	}
	if !f.queue.HasFreshBits(bits) {
		return
	}
	f.lastNewPath = time.Now()
	if err := f.queue.Add(tm.ToTree(gctx), bits, status.Reason, gctx, execTime); err != nil {
		log.Printf("nautilus: %v", err)
	}
}

func (f *Fuzzer) execute(data []byte) ([]byte, feedback.ExitStatus, time.Duration, error) {
	var status feedback.ExitStatus
	startExec := time.Now()
	fb, err := f.exec.Run(data, &status)
	f.execs++
	return fb.Bits(), status, time.Since(startExec), err
}

// noteCrasher persists a crashing input unless its suppression was already
// seen. The suppression is the dedup key, hashed into the file name.
func (f *Fuzzer) noteCrasher(data []byte, status feedback.ExitStatus) {
	out := status.Output
	if len(out) == 0 {
		out = data
	}
	supp := hashutil.SHA1(feedback.ExtractSuppression(out))
	if _, dup := f.suppressed[supp]; dup {
		return
	}
	f.suppressed[supp] = struct{}{}
	f.crashers++

	path := filepath.Join(f.cfg.WorkDir, "crashes", fmt.Sprintf("sig:%d,%s", status.Signal, supp[:16]))
	if err := os.WriteFile(path, data, 0600); err != nil {
		log.Printf("nautilus: cannot save crasher: %v", err)
	}
}

func (f *Fuzzer) broadcastStats() {
	if time.Since(f.lastSync) < syncPeriod {
		return
	}
	f.lastSync = time.Now()

	execsPerSec := float64(f.execs) * 1e9 / float64(time.Since(f.startTime))
	fmt.Printf("corpus: %v (%v ago), crashers: %v, execs: %v (%.0f/sec), uptime: %v\n",
		f.queue.Len()+f.queue.NumProcessed(),
		time.Since(f.lastNewPath).Truncate(time.Second),
		f.crashers, f.execs, execsPerSec,
		time.Since(f.startTime).Truncate(time.Second))
}

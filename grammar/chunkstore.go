// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import "math/rand"

// A chunk references one recorded subtree: a tree in the store and the node
// the subtree is rooted at.
type chunk struct {
	tree int
	node NodeID
}

// ChunkStore catalogues subtrees of previously observed trees, indexed by
// the rule applied at their root. Splicing draws donor material from it.
type ChunkStore struct {
	trees      []*Tree
	chunks     map[RuleID][]chunk
	seen       map[string]struct{}
	perRuleCap int
}

// NewChunkStore creates a store keeping at most perRuleCap subtrees per
// rule. perRuleCap <= 0 means unbounded.
func NewChunkStore(perRuleCap int) *ChunkStore {
	return &ChunkStore{
		chunks:     make(map[RuleID][]chunk),
		seen:       make(map[string]struct{}),
		perRuleCap: perRuleCap,
	}
}

// Record scans t and indexes each subtree whose terminal string has not been
// seen before. The tree is referenced, not copied; callers must not mutate
// it afterwards.
func (s *ChunkStore) Record(t *Tree, ctx *Context) {
	referenced := false
	idx := len(s.trees)
	for i := 0; i < t.Size(); i++ {
		n := NodeID(i)
		rule := t.RuleIDAt(n)
		if s.perRuleCap > 0 && len(s.chunks[rule]) >= s.perRuleCap {
			continue
		}
		key := string(Unparse(&TreeMutation{repl: t.subtreeRules(n)}, ctx))
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.chunks[rule] = append(s.chunks[rule], chunk{tree: idx, node: n})
		referenced = true
	}
	if referenced {
		s.trees = append(s.trees, t)
	}
}

// AlternativeTo returns a uniformly chosen recorded subtree whose root rule
// equals rule, or ok=false if none is recorded.
func (s *ChunkStore) AlternativeTo(r *rand.Rand, rule RuleID) (*Tree, NodeID, bool) {
	cands := s.chunks[rule]
	if len(cands) == 0 {
		return nil, 0, false
	}
	c := cands[r.Intn(len(cands))]
	return s.trees[c.tree], c.node, true
}

// NumChunks reports how many subtrees are recorded for rule.
func (s *ChunkStore) NumChunks(rule RuleID) int { return len(s.chunks[rule]) }

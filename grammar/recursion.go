// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import "math/rand"

// RecursionInfo records, for one nonterminal, every (ancestor, descendant)
// node pair of a tree where both positions derive that nonterminal. Such a
// pair is the unit repeated by the recursive mutation.
type RecursionInfo struct {
	nt    NTermID
	pairs [][2]NodeID
}

// NewRecursionInfo collects the recursion pairs of nt in t.
// ok is false when the tree contains no recursion of nt.
func NewRecursionInfo(t *Tree, nt NTermID, ctx *Context) (ri RecursionInfo, ok bool) {
	ri.nt = nt
	for i := 0; i < t.Size(); i++ {
		n := NodeID(i)
		if t.RuleAt(n, ctx).Nonterm() != nt {
			continue
		}
		cur := n
		for {
			parent, hasParent := t.Parent(cur)
			if !hasParent {
				break
			}
			if t.RuleAt(parent, ctx).Nonterm() == nt {
				ri.pairs = append(ri.pairs, [2]NodeID{parent, n})
			}
			cur = parent
		}
	}
	return ri, len(ri.pairs) > 0
}

// CalcRecursions finds every nonterminal of t that recurses and returns one
// RecursionInfo per such nonterminal.
func (t *Tree) CalcRecursions(ctx *Context) []RecursionInfo {
	seen := make(map[NTermID]bool)
	var infos []RecursionInfo
	for i := 0; i < t.Size(); i++ {
		nt := t.RuleAt(NodeID(i), ctx).Nonterm()
		if seen[nt] {
			continue
		}
		seen[nt] = true
		if ri, ok := NewRecursionInfo(t, nt, ctx); ok {
			infos = append(infos, ri)
		}
	}
	return infos
}

func (ri *RecursionInfo) Nonterm() NTermID { return ri.nt }

func (ri *RecursionInfo) NumPairs() int { return len(ri.pairs) }

// RandomRecursionPair picks one (ancestor, descendant) pair uniformly.
func (ri *RecursionInfo) RandomRecursionPair(r *rand.Rand) (NodeID, NodeID) {
	p := ri.pairs[r.Intn(len(ri.pairs))]
	return p[0], p[1]
}

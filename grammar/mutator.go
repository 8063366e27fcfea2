// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import "math/rand"

// FTester is the minimization callback: it must report whether the proposed
// mutation still covers every bit in freshBits. Execution failures are the
// tester's business; returning false simply rejects the candidate.
type FTester func(m *TreeMutation, freshBits map[int]struct{}, ctx *Context) bool

// FTesterMut is the exploratory callback: it observes each candidate and
// internally decides what to keep.
type FTesterMut func(m *TreeMutation, ctx *Context)

// Mutator implements the structure-preserving tree mutations. It owns a
// scratchpad tree for freshly generated subtrees and a random source so
// runs are reproducible under a fixed seed.
type Mutator struct {
	r          *rand.Rand
	scratchpad *Tree
}

func NewMutator(r *rand.Rand) *Mutator {
	return &Mutator{r: r, scratchpad: &Tree{}}
}

// MinimizeTree walks nodes in [start, end) and, for every node whose subtree
// exceeds the grammar minimum for its nonterminal, proposes the minimum
// subtree instead. Accepted proposals are committed into tree. Returns true
// once the whole tree has been processed, false if end was reached first
// (the caller resumes from there).
func (m *Mutator) MinimizeTree(tree *Tree, bits map[int]struct{}, ctx *Context,
	start, end int, tester FTester) bool {
	i := start
	for i < tree.Size() {
		n := NodeID(i)
		nt := tree.RuleAt(n, ctx).Nonterm()

		if tree.SubtreeSize(n) > ctx.MinLenForNT(nt) {
			m.scratchpad.GenerateFromNT(m.r, nt, ctx.MinLenForNT(nt), ctx)
			if t, ok := testAndConvert(tree, n, m.scratchpad, 0, ctx, bits, tester); ok {
				*tree = *t
			}
		}

		i++
		if i == end {
			return false
		}
	}
	return true
}

// MinimizeRec collapses recursions one level at a time: for each node it
// proposes replacing the nearest same-nonterminal ancestor's subtree with
// the node's own subtree. Same resume contract as MinimizeTree.
func (m *Mutator) MinimizeRec(tree *Tree, bits map[int]struct{}, ctx *Context,
	start, end int, tester FTester) bool {
	i := start
	for i < tree.Size() {
		n := NodeID(i)

		if parent, ok := findParentWithNT(tree, n, ctx); ok {
			if t, accepted := testAndConvert(tree, parent, tree, n, ctx, bits, tester); accepted {
				*tree = *t
				i = int(parent)
			}
		}

		i++
		if i == end {
			return false
		}
	}
	return true
}

// MutRules sequentially replaces each node in [start, end) with subtrees
// generated from every alternative rule of its nonterminal. The tree is
// never mutated in place; each proposal is independent.
func (m *Mutator) MutRules(tree *Tree, ctx *Context, start, end int, tester FTesterMut) bool {
	for i := start; i < end; i++ {
		if i == tree.Size() {
			return true
		}

		n := NodeID(i)
		oldRule := tree.RuleIDAt(n)
		for _, newRule := range ctx.RulesForNT(ctx.NTOf(tree.RuleOrCustomAt(n))) {
			if newRule == oldRule {
				continue
			}
			budget := ctx.RandomLenForRule(m.r, newRule)
			m.scratchpad.GenerateFromRule(m.r, newRule, budget, ctx)
			tester(tree.MutateReplaceFromTree(n, m.scratchpad, 0), ctx)
		}
	}
	return false
}

// MutRandom replaces a uniformly random node with a fresh subtree of the
// same nonterminal, if that nonterminal has alternatives to offer.
func (m *Mutator) MutRandom(tree *Tree, ctx *Context, tester FTesterMut) {
	n := NodeID(m.r.Intn(tree.Size()))
	nt := tree.RuleAt(n, ctx).Nonterm()

	if ctx.NTHasMultiplePossibilities(nt) {
		budget := ctx.RandomLenForNT(m.r, nt)
		m.scratchpad.GenerateFromNT(m.r, nt, budget, ctx)
		tester(tree.MutateReplaceFromTree(n, m.scratchpad, 0), ctx)
	}
}

// MutSplice replaces a uniformly random node with a recorded subtree of the
// same rule drawn from the chunk store.
func (m *Mutator) MutSplice(tree *Tree, ctx *Context, cks *ChunkStore, tester FTesterMut) {
	n := NodeID(m.r.Intn(tree.Size()))
	oldRule := tree.RuleIDAt(n)

	if donor, node, ok := cks.AlternativeTo(m.r, oldRule); ok {
		tester(tree.MutateReplaceFromTree(n, donor, node), ctx)
	}
}

// MutRandomRecursion picks a random recursion pair and a nesting budget
// N = 2^(1+k) for k uniform in [1,10], then repeats the pair's recursive
// wrapping N/total times, where total is the node count of one wrapping.
func (m *Mutator) MutRandomRecursion(tree *Tree, recursions []RecursionInfo,
	ctx *Context, tester FTesterMut) {
	if len(recursions) == 0 {
		return
	}

	maxLen := 2 << (1 + m.r.Intn(10)) // nesting degree: 4..2048

	ri := recursions[m.r.Intn(len(recursions))]
	rec0, rec1 := ri.RandomRecursionPair(m.r)

	total := tree.SubtreeSize(rec0) - tree.SubtreeSize(rec1)
	reps := maxLen / total

	recursionTree := expandRecursion(tree, rec0, rec1, reps)
	tester(tree.MutateReplaceFromTree(rec1, recursionTree, 0), ctx)
}

// expandRecursion builds a tree repeating the recursive wrapping between
// rec0 and rec1 reps times around the inner subtree at rec1. The opening
// region is emitted reps times, then the inner subtree, then the closing
// region reps times, with sizes adjusted so earlier copies account for the
// descendants added by later ones.
func expandRecursion(tree *Tree, rec0, rec1 NodeID, reps int) *Tree {
	pre := int(rec1) - int(rec0)
	total := tree.SubtreeSize(rec0) - tree.SubtreeSize(rec1)
	post := total - pre
	postfix := tree.SubtreeSize(rec1)

	rules := make([]RuleOrCustom, 0, reps*pre+postfix+reps*post)
	sizes := make([]int, 0, reps*pre+postfix+reps*post)

	for i := 0; i < reps*pre; i++ {
		idx := int(rec0) + i%pre
		rules = append(rules, tree.rules[idx])
		sizes = append(sizes, tree.sizes[idx])
	}

	for i := 0; i < postfix; i++ {
		idx := int(rec1) + i
		rules = append(rules, tree.rules[idx])
		sizes = append(sizes, tree.sizes[idx])
	}

	// Entries spanning a whole opening copy gain the descendants of all
	// copies emitted after them.
	for i := 0; i < reps*pre; i++ {
		if sizes[i] >= pre {
			sizes[i] += (reps - i/pre - 1) * total
		}
	}

	for i := 0; i < reps*post; i++ {
		idx := int(rec1) + postfix + i%post
		rules = append(rules, tree.rules[idx])
		sizes = append(sizes, tree.sizes[idx])
	}

	return newTreeRaw(rules, sizes)
}

// findParentWithNT walks the ancestor chain of node and returns the nearest
// ancestor deriving the same nonterminal.
func findParentWithNT(tree *Tree, node NodeID, ctx *Context) (NodeID, bool) {
	nt := tree.RuleAt(node, ctx).Nonterm()

	cur := node
	for {
		parent, ok := tree.Parent(cur)
		if !ok {
			return 0, false
		}
		if tree.RuleAt(parent, ctx).Nonterm() == nt {
			return parent, true
		}
		cur = parent
	}
}

// testAndConvert forms the replacement view, consults the tester with the
// fresh bits, and materializes the mutation only on acceptance.
func testAndConvert(a *Tree, nA NodeID, b *Tree, nB NodeID, ctx *Context,
	freshBits map[int]struct{}, tester FTester) (*Tree, bool) {
	repl := a.MutateReplaceFromTree(nA, b, nB)
	if tester(repl, freshBits, ctx) {
		return repl.ToTree(ctx), true
	}
	return nil, false
}

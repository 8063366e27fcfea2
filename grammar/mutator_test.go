// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinimizeTree(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	tree := aaabbbTree(ctx, rec, flat)
	mut := NewMutator(rand.New(rand.NewSource(1)))

	// Accept any candidate that unparses to a non-empty string.
	nonEmpty := func(tm *TreeMutation, bits map[int]struct{}, gctx *Context) bool {
		return len(Unparse(tm, gctx)) > 0
	}

	done := mut.MinimizeTree(tree, nil, ctx, 0, tree.Size()+1, nonEmpty)
	assert.True(t, done)
	assert.Equal(t, "ab", string(tree.Unparse(ctx)))
	checkIntegrity(t, tree)

	// Minimization contract: every node is already at its grammar minimum.
	for i := 0; i < tree.Size(); i++ {
		n := NodeID(i)
		nt := tree.RuleAt(n, ctx).Nonterm()
		assert.Equal(t, ctx.MinLenForNT(nt), tree.SubtreeSize(n))
	}
}

func TestMinimizeTreeRejectedKeepsTree(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	tree := aaabbbTree(ctx, rec, flat)
	mut := NewMutator(rand.New(rand.NewSource(1)))

	never := func(*TreeMutation, map[int]struct{}, *Context) bool { return false }
	done := mut.MinimizeTree(tree, nil, ctx, 0, tree.Size()+1, never)
	assert.True(t, done)
	assert.Equal(t, "aaabbb", string(tree.Unparse(ctx)))
}

func TestMinimizeTreeWindowResume(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	tree := aaabbbTree(ctx, rec, flat)
	mut := NewMutator(rand.New(rand.NewSource(1)))

	never := func(*TreeMutation, map[int]struct{}, *Context) bool { return false }
	assert.False(t, mut.MinimizeTree(tree, nil, ctx, 0, 1, never))
	assert.False(t, mut.MinimizeTree(tree, nil, ctx, 1, 2, never))
	assert.False(t, mut.MinimizeTree(tree, nil, ctx, 2, 3, never))
	assert.True(t, mut.MinimizeTree(tree, nil, ctx, 3, 4, never))
}

func TestMinimizeRecCollapsesRecursion(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	tree := aaabbbTree(ctx, rec, flat)
	mut := NewMutator(rand.New(rand.NewSource(1)))

	nonEmpty := func(tm *TreeMutation, bits map[int]struct{}, gctx *Context) bool {
		return len(Unparse(tm, gctx)) > 0
	}
	done := mut.MinimizeRec(tree, nil, ctx, 0, tree.Size()+1, nonEmpty)
	assert.True(t, done)
	assert.Equal(t, "ab", string(tree.Unparse(ctx)))
	checkIntegrity(t, tree)
}

func TestMutRulesProposesAllAlternatives(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	tree := NewTree([]RuleOrCustom{newRuleOrCustom(rec), newRuleOrCustom(flat)}, ctx)
	mut := NewMutator(rand.New(rand.NewSource(1)))

	var proposals []string
	record := func(tm *TreeMutation, gctx *Context) {
		proposals = append(proposals, string(Unparse(tm, gctx)))
	}
	done := mut.MutRules(tree, ctx, 0, tree.Size(), record)
	assert.False(t, done)

	// One alternative per node (S has two rules, one of which is current).
	require.Len(t, proposals, 2)
	// Node 0 flips aSb -> ab; node 1 flips ab -> aSb (inner generated).
	assert.Equal(t, "ab", proposals[0])
	assert.Equal(t, "a", proposals[1][:1])

	// The tree itself is never mutated in place.
	assert.Equal(t, "aabb", string(tree.Unparse(ctx)))
}

func TestMutRandomProposesSameNonterm(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	tree := aaabbbTree(ctx, rec, flat)
	mut := NewMutator(rand.New(rand.NewSource(5)))

	called := 0
	check := func(tm *TreeMutation, gctx *Context) {
		called++
		out := Unparse(tm, gctx)
		assert.NotEmpty(t, out)
		assert.Equal(t, byte('a'), out[0])
	}
	for i := 0; i < 10; i++ {
		mut.MutRandom(tree, ctx, check)
	}
	assert.Greater(t, called, 0)
}

func TestExpandRecursion(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	// "aabb": one recursive wrapping around the flat expansion.
	tree := NewTree([]RuleOrCustom{newRuleOrCustom(rec), newRuleOrCustom(flat)}, ctx)

	expanded := expandRecursion(tree, 0, 1, 4)
	// reps*pre + postfix + reps*post nodes.
	require.Equal(t, 4*1+1+4*0, expanded.Size())
	assert.Equal(t, "aaaaabbbbb", string(Unparse(&TreeMutation{repl: expanded.rules}, ctx)))

	// Sizes account for the descendants added by later copies.
	assert.Equal(t, []int{5, 4, 3, 2, 1}, expanded.sizes)
}

func TestExpandRecursionDeepPair(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	tree := aaabbbTree(ctx, rec, flat)

	// Pair (0,2) spans two wrappings: pre=2, total=2, post=0, postfix=1.
	expanded := expandRecursion(tree, 0, 2, 3)
	require.Equal(t, 3*2+1+3*0, expanded.Size())
	assert.Equal(t, "aaaaaaabbbbbbb", string(Unparse(&TreeMutation{repl: expanded.rules}, ctx)))
}

func TestMutRandomRecursion(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	tree := NewTree([]RuleOrCustom{newRuleOrCustom(rec), newRuleOrCustom(flat)}, ctx)
	mut := NewMutator(rand.New(rand.NewSource(9)))

	ri, ok := NewRecursionInfo(tree, ctx.NTID("S"), ctx)
	require.True(t, ok)

	called := 0
	check := func(tm *TreeMutation, gctx *Context) {
		called++
		out := string(Unparse(tm, gctx))
		// The expansion nests the same recursion deeper: a^n ab b^n.
		assert.Regexp(t, `^a+b+$`, out)
		assert.Greater(t, len(out), len("aabb"))
	}
	mut.MutRandomRecursion(tree, []RecursionInfo{ri}, ctx, check)
	assert.Equal(t, 1, called)

	// No recursions, no proposals.
	mut.MutRandomRecursion(tree, nil, ctx, func(*TreeMutation, *Context) {
		t.Fatal("unexpected proposal")
	})
}

func TestMutSplice(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	cks := NewChunkStore(0)

	donor := NewTree([]RuleOrCustom{newRuleOrCustom(rec), newRuleOrCustom(flat)}, ctx)
	cks.Record(donor, ctx)

	host := NewTree([]RuleOrCustom{newRuleOrCustom(rec), newRuleOrCustom(flat)}, ctx)
	mut := NewMutator(rand.New(rand.NewSource(42)))

	called := 0
	check := func(tm *TreeMutation, gctx *Context) {
		called++
		// Whichever node is picked, the recorded donor chunk for its rule
		// reproduces the donor-shaped subtree.
		assert.Equal(t, "aabb", string(Unparse(tm, gctx)))
	}
	mut.MutSplice(host, ctx, cks, check)
	assert.Equal(t, 1, called)
}

func TestMutSpliceNoChunk(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	host := aaabbbTree(ctx, rec, flat)
	mut := NewMutator(rand.New(rand.NewSource(1)))

	mut.MutSplice(host, ctx, NewChunkStore(0), func(*TreeMutation, *Context) {
		t.Fatal("unexpected proposal")
	})
}

func TestFindParentWithNT(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	tree := aaabbbTree(ctx, rec, flat)

	p, ok := findParentWithNT(tree, 2, ctx)
	require.True(t, ok)
	assert.Equal(t, NodeID(1), p)

	_, ok = findParentWithNT(tree, 0, ctx)
	assert.False(t, ok)
}

func TestTestAndConvert(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	tree := aaabbbTree(ctx, rec, flat)
	donor := NewTree([]RuleOrCustom{newRuleOrCustom(flat)}, ctx)

	got, ok := testAndConvert(tree, 0, donor, 0, ctx, nil,
		func(*TreeMutation, map[int]struct{}, *Context) bool { return true })
	require.True(t, ok)
	assert.Equal(t, "ab", string(got.Unparse(ctx)))

	_, ok = testAndConvert(tree, 0, donor, 0, ctx, nil,
		func(*TreeMutation, map[int]struct{}, *Context) bool { return false })
	assert.False(t, ok)
}

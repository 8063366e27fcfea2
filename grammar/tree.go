// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"bytes"
	"math/rand"
)

// TreeSource is any preorder sequence of applied rules that can be unparsed
// or materialized. Tree and TreeMutation both implement it.
type TreeSource interface {
	Size() int
	RuleOrCustomAt(n NodeID) RuleOrCustom
}

// Tree is a derivation tree in flat preorder form: parallel arrays of the
// rule applied at each node, the preorder subtree size rooted there, and the
// parent index. Children of node i occupy [i+1, i+sizes[i]).
type Tree struct {
	rules []RuleOrCustom
	sizes []int
	paren []NodeID // paren[0] is meaningless; the root has no parent
}

// NewTree builds a tree from a preorder rule sequence, computing sizes and
// parents from the rule arities.
func NewTree(rules []RuleOrCustom, ctx *Context) *Tree {
	t := &Tree{rules: rules}
	t.calcSubtreeSizesAndParents(ctx)
	return t
}

// newTreeRaw wraps pre-computed arrays without validation. paren is left
// empty; callers only use such trees as replacement donors.
func newTreeRaw(rules []RuleOrCustom, sizes []int) *Tree {
	return &Tree{rules: rules, sizes: sizes}
}

func (t *Tree) Size() int { return len(t.rules) }

func (t *Tree) SubtreeSize(n NodeID) int { return t.sizes[n] }

func (t *Tree) RuleOrCustomAt(n NodeID) RuleOrCustom { return t.rules[n] }

func (t *Tree) RuleIDAt(n NodeID) RuleID { return t.rules[n].RuleID() }

func (t *Tree) RuleAt(n NodeID, ctx *Context) *Rule {
	return ctx.Rule(t.rules[n].RuleID())
}

// Parent returns the parent of n; ok is false for the root.
func (t *Tree) Parent(n NodeID) (parent NodeID, ok bool) {
	if n == 0 {
		return 0, false
	}
	return t.paren[n], true
}

// subtreeRules returns the preorder slice of the subtree rooted at n.
// The slice aliases the tree's storage.
func (t *Tree) subtreeRules(n NodeID) []RuleOrCustom {
	return t.rules[n : int(n)+t.sizes[n]]
}

// Clone returns a deep copy.
func (t *Tree) Clone() *Tree {
	return &Tree{
		rules: append([]RuleOrCustom(nil), t.rules...),
		sizes: append([]int(nil), t.sizes...),
		paren: append([]NodeID(nil), t.paren...),
	}
}

// calcSubtreeSizesAndParents recomputes the sizes and paren arrays from the
// preorder rule sequence.
func (t *Tree) calcSubtreeSizesAndParents(ctx *Context) {
	t.sizes = make([]int, len(t.rules))
	t.paren = make([]NodeID, len(t.rules))
	if len(t.rules) == 0 {
		return
	}
	cursor := 0
	t.fill(ctx, &cursor, 0)
	if cursor != len(t.rules) {
		panic("grammar: truncated preorder rule sequence")
	}
}

func (t *Tree) fill(ctx *Context, cursor *int, parent NodeID) int {
	i := *cursor
	*cursor++
	t.paren[i] = parent
	size := 1
	arity := ctx.Rule(t.rules[i].RuleID()).NumberOfNonterms()
	for k := 0; k < arity; k++ {
		size += t.fill(ctx, cursor, NodeID(i))
	}
	t.sizes[i] = size
	return size
}

// MutateReplaceFromTree forms the lazy view of t with the subtree at n
// replaced by the subtree of other rooted at m. No copying happens until
// the view is unparsed or materialized.
func (t *Tree) MutateReplaceFromTree(n NodeID, other *Tree, m NodeID) *TreeMutation {
	return &TreeMutation{
		prefix:  t.rules[:n],
		repl:    other.subtreeRules(m),
		postfix: t.rules[int(n)+t.sizes[n]:],
	}
}

// UnparseTo emits the terminal string of the tree by preorder traversal.
func (t *Tree) UnparseTo(ctx *Context, buf *bytes.Buffer) {
	unparse(t, ctx, buf)
}

// Unparse is UnparseTo into a fresh buffer.
func (t *Tree) Unparse(ctx *Context) []byte {
	var buf bytes.Buffer
	unparse(t, ctx, &buf)
	return buf.Bytes()
}

// Unparse emits the terminal string of any preorder rule sequence.
// It is a pure function of (src, ctx).
func Unparse(src TreeSource, ctx *Context) []byte {
	var buf bytes.Buffer
	unparse(src, ctx, &buf)
	return buf.Bytes()
}

func unparse(src TreeSource, ctx *Context, buf *bytes.Buffer) {
	cursor := 0
	unparseFrom(src, ctx, buf, &cursor)
}

func unparseFrom(src TreeSource, ctx *Context, buf *bytes.Buffer, cursor *int) {
	rc := src.RuleOrCustomAt(NodeID(*cursor))
	*cursor++
	rule := ctx.Rule(rc.RuleID())
	if rule.IsCustom() {
		buf.Write(rc.Data())
		return
	}
	for _, c := range rule.children {
		if c.isNT {
			unparseFrom(src, ctx, buf, cursor)
		} else {
			buf.Write(c.term)
		}
	}
}

// GenerateFromNT replaces the tree contents with a fresh derivation of nt.
// The result does not exceed budget nodes unless budget is below the
// grammar's minimum, in which case the minimum expansion is used.
func (t *Tree) GenerateFromNT(r *rand.Rand, nt NTermID, budget int, ctx *Context) {
	rule := chooseRule(r, nt, budget, ctx)
	t.GenerateFromRule(r, rule, budget, ctx)
}

// GenerateFromRule replaces the tree contents with a fresh derivation whose
// root applies rule.
func (t *Tree) GenerateFromRule(r *rand.Rand, rule RuleID, budget int, ctx *Context) {
	t.rules = t.rules[:0]
	t.genRule(r, rule, budget, ctx)
	t.calcSubtreeSizesAndParents(ctx)
}

func chooseRule(r *rand.Rand, nt NTermID, budget int, ctx *Context) RuleID {
	fit := ctx.applicableRules(nt, budget)
	if len(fit) == 0 {
		// Budget starvation: fall back to the minimum expansion.
		return ctx.minRuleFor(nt)
	}
	return fit[r.Intn(len(fit))]
}

// genRule appends the preorder expansion of rule to t.rules and returns the
// number of nodes emitted. Slack above the minimum is split randomly among
// the nonterminal children, left to right.
func (t *Tree) genRule(r *rand.Rand, id RuleID, budget int, ctx *Context) int {
	rule := ctx.Rule(id)
	if rule.IsCustom() {
		t.rules = append(t.rules, newCustom(id, rule.sampler(r)))
		return 1
	}
	t.rules = append(t.rules, newRuleOrCustom(id))

	slack := budget - ctx.MinLenForRule(id)
	if slack < 0 {
		ctx.Starvations++
		slack = 0
	}
	total := 1
	for _, nt := range rule.Nonterms() {
		childBudget := ctx.MinLenForNT(nt)
		if slack > 0 {
			extra := r.Intn(slack + 1)
			childBudget += extra
			slack -= extra
		}
		child := chooseRule(r, nt, childBudget, ctx)
		total += t.genRule(r, child, childBudget, ctx)
	}
	return total
}

// TreeMutation is the lazy "tree A with a subtree replaced" view used to
// avoid copying during speculative fitness tests.
type TreeMutation struct {
	prefix  []RuleOrCustom
	repl    []RuleOrCustom
	postfix []RuleOrCustom
}

func (m *TreeMutation) Size() int {
	return len(m.prefix) + len(m.repl) + len(m.postfix)
}

func (m *TreeMutation) RuleOrCustomAt(n NodeID) RuleOrCustom {
	i := int(n)
	if i < len(m.prefix) {
		return m.prefix[i]
	}
	i -= len(m.prefix)
	if i < len(m.repl) {
		return m.repl[i]
	}
	return m.postfix[i-len(m.repl)]
}

// UnparseTo emits the terminal string of the mutated tree.
func (m *TreeMutation) UnparseTo(ctx *Context, buf *bytes.Buffer) {
	unparse(m, ctx, buf)
}

// ToTree materializes the view into an independent Tree.
func (m *TreeMutation) ToTree(ctx *Context) *Tree {
	rules := make([]RuleOrCustom, 0, m.Size())
	rules = append(rules, m.prefix...)
	rules = append(rules, m.repl...)
	rules = append(rules, m.postfix...)
	return NewTree(rules, ctx)
}

// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import "math/rand"

// RuleChild is one symbol on the right-hand side of a production:
// either a terminal byte string or a nonterminal reference.
type RuleChild struct {
	term []byte
	nt   NTermID
	isNT bool
}

// Rule is a single production. Plain rules expand to their children;
// sample-time rules draw a payload from sampler when generated.
type Rule struct {
	nonterm  NTermID
	children []RuleChild
	sampler  func(*rand.Rand) []byte
}

func (r *Rule) Nonterm() NTermID { return r.nonterm }

func (r *Rule) Children() []RuleChild { return r.children }

func (r *Rule) IsCustom() bool { return r.sampler != nil }

// NumberOfNonterms is the arity of the rule in the derivation tree:
// the number of subtrees a node with this rule has.
func (r *Rule) NumberOfNonterms() int {
	n := 0
	for _, c := range r.children {
		if c.isNT {
			n++
		}
	}
	return n
}

// Nonterms returns the nonterminal children in left-to-right order.
func (r *Rule) Nonterms() []NTermID {
	var nts []NTermID
	for _, c := range r.children {
		if c.isNT {
			nts = append(nts, c.nt)
		}
	}
	return nts
}

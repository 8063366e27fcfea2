// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"bytes"
	"fmt"
	"math/rand"

	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
)

// maxNodes is the sentinel for "no finite expansion known yet" during the
// min-length fixpoint.
const maxNodes = 1 << 30

// Context holds the grammar: interned nonterminals, production rules, the
// precomputed minimum expansion length per rule and nonterminal, and the
// random length distribution used by the generator.
//
// A Context is mutable while rules are being added, must be finalized with
// Initialize, and is read-only afterwards.
type Context struct {
	rules      []Rule
	ntIDs      map[string]NTermID
	ntNames    []string
	rulesForNT [][]RuleID

	minLenRule []int
	minLenNT   []int
	maxLen     int
	ready      bool

	// Starvations counts generations that had to fall back to the minimum
	// expansion because the budget was below min_len. Diagnostic only.
	Starvations uint64
}

func NewContext() *Context {
	return &Context{ntIDs: make(map[string]NTermID)}
}

// NTID interns a nonterminal name.
func (c *Context) NTID(name string) NTermID {
	if id, ok := c.ntIDs[name]; ok {
		return id
	}
	id := NTermID(len(c.ntNames))
	c.ntIDs[name] = id
	c.ntNames = append(c.ntNames, name)
	c.rulesForNT = append(c.rulesForNT, nil)
	return id
}

// NTName returns the interned name of nt.
func (c *Context) NTName(nt NTermID) string { return c.ntNames[nt] }

// AddRule registers the production nt -> format. Nonterminal references in
// format are written as {Name}; everything else is terminal bytes.
// The format "a{S}b" describes the production S -> a S b.
func (c *Context) AddRule(nt, format string) (RuleID, error) {
	children, err := parseFormat(c, format)
	if err != nil {
		return 0, err
	}
	return c.addRule(Rule{nonterm: c.NTID(nt), children: children}), nil
}

// MustAddRule is AddRule for statically known formats.
func (c *Context) MustAddRule(nt, format string) RuleID {
	id, err := c.AddRule(nt, format)
	if err != nil {
		panic(err)
	}
	return id
}

// AddCustomRule registers a production whose terminal expansion is drawn
// from sampler each time the rule is generated.
func (c *Context) AddCustomRule(nt string, sampler func(*rand.Rand) []byte) RuleID {
	return c.addRule(Rule{nonterm: c.NTID(nt), sampler: sampler})
}

func (c *Context) addRule(r Rule) RuleID {
	if c.ready {
		panic("grammar: AddRule after Initialize")
	}
	id := RuleID(len(c.rules))
	c.rules = append(c.rules, r)
	c.rulesForNT[r.nonterm] = append(c.rulesForNT[r.nonterm], id)
	return id
}

func parseFormat(c *Context, format string) ([]RuleChild, error) {
	var children []RuleChild
	data := []byte(format)
	for len(data) > 0 {
		open := bytes.IndexByte(data, '{')
		if open == -1 {
			children = append(children, RuleChild{term: append([]byte(nil), data...)})
			break
		}
		if open > 0 {
			children = append(children, RuleChild{term: append([]byte(nil), data[:open]...)})
		}
		closing := bytes.IndexByte(data[open:], '}')
		if closing == -1 {
			return nil, fuzzerr.Newf(fuzzerr.FatalConfig, "unterminated nonterminal reference in %q", format)
		}
		name := string(data[open+1 : open+closing])
		if name == "" {
			return nil, fuzzerr.Newf(fuzzerr.FatalConfig, "empty nonterminal reference in %q", format)
		}
		children = append(children, RuleChild{nt: c.NTID(name), isNT: true})
		data = data[open+closing+1:]
	}
	return children, nil
}

// Initialize computes the minimum expansion lengths via a fixpoint over all
// productions and freezes the context. maxLen bounds the random budgets
// handed to the generator.
func (c *Context) Initialize(maxLen int) error {
	c.maxLen = maxLen
	c.minLenRule = make([]int, len(c.rules))
	c.minLenNT = make([]int, len(c.ntNames))
	for i := range c.minLenRule {
		c.minLenRule[i] = maxNodes
	}
	for i := range c.minLenNT {
		c.minLenNT[i] = maxNodes
	}

	for changed := true; changed; {
		changed = false
		for id, r := range c.rules {
			min := 1
			for _, nt := range r.Nonterms() {
				min += c.minLenNT[nt]
			}
			if min < c.minLenRule[id] {
				c.minLenRule[id] = min
				changed = true
			}
			if min < c.minLenNT[r.nonterm] {
				c.minLenNT[r.nonterm] = min
				changed = true
			}
		}
	}

	for nt, min := range c.minLenNT {
		if min >= maxNodes {
			return fuzzerr.Newf(fuzzerr.FatalConfig, "nonterminal %q has no finite expansion", c.ntNames[nt])
		}
	}
	c.ready = true
	return nil
}

// Rule returns the production for id.
func (c *Context) Rule(id RuleID) *Rule { return &c.rules[id] }

// NumRules reports how many productions the grammar has.
func (c *Context) NumRules() int { return len(c.rules) }

// NTOf returns the left-hand-side nonterminal of the applied rule.
func (c *Context) NTOf(rc RuleOrCustom) NTermID {
	return c.rules[rc.RuleID()].nonterm
}

// RulesForNT returns all alternatives of nt.
func (c *Context) RulesForNT(nt NTermID) []RuleID { return c.rulesForNT[nt] }

// NTHasMultiplePossibilities reports whether nt has at least two alternatives.
func (c *Context) NTHasMultiplePossibilities(nt NTermID) bool {
	return len(c.rulesForNT[nt]) > 1
}

// MinLenForNT is the smallest possible expansion of nt, in nodes.
func (c *Context) MinLenForNT(nt NTermID) int {
	c.mustBeReady()
	return c.minLenNT[nt]
}

// MinLenForRule is the smallest possible expansion of rule, in nodes.
func (c *Context) MinLenForRule(rule RuleID) int {
	c.mustBeReady()
	return c.minLenRule[rule]
}

// RandomLenForNT samples a generation budget for nt, biased towards small
// trees and never below the minimum expansion.
func (c *Context) RandomLenForNT(r *rand.Rand, nt NTermID) int {
	return c.randomLen(r, c.MinLenForNT(nt))
}

// RandomLenForRule samples a generation budget for rule.
func (c *Context) RandomLenForRule(r *rand.Rand, rule RuleID) int {
	return c.randomLen(r, c.MinLenForRule(rule))
}

func (c *Context) randomLen(r *rand.Rand, min int) int {
	if c.maxLen <= min {
		return min
	}
	u := r.Float64()
	return min + int(u*u*float64(c.maxLen-min))
}

func (c *Context) mustBeReady() {
	if !c.ready {
		panic("grammar: context not initialized")
	}
}

// applicableRules lists the alternatives of nt that fit within budget.
func (c *Context) applicableRules(nt NTermID, budget int) []RuleID {
	var fit []RuleID
	for _, id := range c.rulesForNT[nt] {
		if c.minLenRule[id] <= budget {
			fit = append(fit, id)
		}
	}
	return fit
}

// minRuleFor picks the alternative of nt with the smallest expansion.
func (c *Context) minRuleFor(nt NTermID) RuleID {
	best := c.rulesForNT[nt][0]
	for _, id := range c.rulesForNT[nt][1:] {
		if c.minLenRule[id] < c.minLenRule[best] {
			best = id
		}
	}
	return best
}

func (c *Context) String() string {
	return fmt.Sprintf("grammar{nts: %v, rules: %v}", len(c.ntNames), len(c.rules))
}

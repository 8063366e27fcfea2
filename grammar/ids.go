// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

// NTermID identifies a nonterminal interned in a Context.
type NTermID int

// RuleID identifies a production rule interned in a Context.
type RuleID int

// NodeID is an index into a tree's preorder arrays. NodeID(0) is the root.
type NodeID int

// RuleOrCustom is the rule applied at a tree node. For rules whose expansion
// is chosen at sample time, data carries the concrete terminal payload.
type RuleOrCustom struct {
	rule RuleID
	data []byte
}

func newRuleOrCustom(rule RuleID) RuleOrCustom {
	return RuleOrCustom{rule: rule}
}

func newCustom(rule RuleID, data []byte) RuleOrCustom {
	return RuleOrCustom{rule: rule, data: data}
}

func (rc RuleOrCustom) RuleID() RuleID { return rc.rule }

// Data returns the sampled payload, or nil for plain rules.
func (rc RuleOrCustom) Data() []byte { return rc.data }

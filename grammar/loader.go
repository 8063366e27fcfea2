// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
)

// grammarFile is the on-disk grammar description:
//
//	start: S
//	rules:
//	  - nt: S
//	    rhs: "a{S}b"
//	  - nt: S
//	    rhs: "ab"
//
// Nonterminal references in rhs use {Name}; everything else is terminal.
type grammarFile struct {
	Start string `yaml:"start"`
	Rules []struct {
		NT  string `yaml:"nt"`
		RHS string `yaml:"rhs"`
	} `yaml:"rules"`
}

// LoadFile reads a grammar description and returns the built context and
// the start nonterminal. The context is not yet initialized; callers pick
// the tree budget and call Initialize.
func LoadFile(path string) (*Context, NTermID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fuzzerr.WithPath(fuzzerr.FatalConfig, path, "cannot read grammar")
	}

	var gf grammarFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return nil, 0, fuzzerr.Newf(fuzzerr.FatalConfig, "cannot parse grammar %s: %v", path, err)
	}
	if gf.Start == "" || len(gf.Rules) == 0 {
		return nil, 0, fuzzerr.WithPath(fuzzerr.FatalConfig, path, "grammar needs a start symbol and at least one rule")
	}

	ctx := NewContext()
	start := ctx.NTID(gf.Start)
	for _, r := range gf.Rules {
		if _, err := ctx.AddRule(r.NT, r.RHS); err != nil {
			return nil, 0, err
		}
	}
	return ctx, start, nil
}

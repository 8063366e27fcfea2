// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
)

// newTestGrammar builds S -> aSb | ab and returns the context and the two
// rule ids.
func newTestGrammar(t *testing.T, maxLen int) (*Context, RuleID, RuleID) {
	t.Helper()
	ctx := NewContext()
	rec := ctx.MustAddRule("S", "a{S}b")
	flat := ctx.MustAddRule("S", "ab")
	require.NoError(t, ctx.Initialize(maxLen))
	return ctx, rec, flat
}

func TestMinLenFixpoint(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	s := ctx.NTID("S")

	assert.Equal(t, 1, ctx.MinLenForNT(s))
	assert.Equal(t, 1, ctx.MinLenForRule(flat))
	assert.Equal(t, 2, ctx.MinLenForRule(rec))
}

func TestMinLenDeepGrammar(t *testing.T) {
	ctx := NewContext()
	ctx.MustAddRule("A", "{B}{B}")
	ctx.MustAddRule("B", "{C}")
	ctx.MustAddRule("C", "x")
	require.NoError(t, ctx.Initialize(100))

	assert.Equal(t, 1, ctx.MinLenForNT(ctx.NTID("C")))
	assert.Equal(t, 2, ctx.MinLenForNT(ctx.NTID("B")))
	assert.Equal(t, 5, ctx.MinLenForNT(ctx.NTID("A")))
}

func TestInitializeRejectsUnproductive(t *testing.T) {
	ctx := NewContext()
	ctx.MustAddRule("S", "a{S}") // only expansion recurses forever
	err := ctx.Initialize(100)
	require.Error(t, err)
	assert.True(t, fuzzerr.IsKind(err, fuzzerr.FatalConfig))
}

func TestAlternatives(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	s := ctx.NTID("S")

	assert.Equal(t, []RuleID{rec, flat}, ctx.RulesForNT(s))
	assert.True(t, ctx.NTHasMultiplePossibilities(s))

	single := NewContext()
	single.MustAddRule("T", "x")
	require.NoError(t, single.Initialize(10))
	assert.False(t, single.NTHasMultiplePossibilities(single.NTID("T")))
}

func TestRandomLenBounds(t *testing.T) {
	ctx, rec, _ := newTestGrammar(t, 50)
	s := ctx.NTID("S")
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		n := ctx.RandomLenForNT(r, s)
		assert.GreaterOrEqual(t, n, ctx.MinLenForNT(s))
		assert.LessOrEqual(t, n, 50)

		n = ctx.RandomLenForRule(r, rec)
		assert.GreaterOrEqual(t, n, ctx.MinLenForRule(rec))
	}
}

func TestParseFormatErrors(t *testing.T) {
	ctx := NewContext()
	_, err := ctx.AddRule("S", "a{S")
	require.Error(t, err)
	_, err = ctx.AddRule("S", "a{}b")
	require.Error(t, err)
}

func TestNTOf(t *testing.T) {
	ctx, rec, flat := newTestGrammar(t, 100)
	s := ctx.NTID("S")
	assert.Equal(t, s, ctx.NTOf(newRuleOrCustom(rec)))
	assert.Equal(t, s, ctx.NTOf(newRuleOrCustom(flat)))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grammar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
start: S
rules:
  - nt: S
    rhs: "a{S}b"
  - nt: S
    rhs: "ab"
`), 0644))

	ctx, start, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, ctx.Initialize(100))
	assert.Equal(t, ctx.NTID("S"), start)
	assert.Equal(t, 2, ctx.NumRules())
}

func TestLoadFileRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grammar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("start: S\n"), 0644))

	_, _, err := LoadFile(path)
	require.Error(t, err)
	assert.True(t, fuzzerr.IsKind(err, fuzzerr.FatalConfig))
}

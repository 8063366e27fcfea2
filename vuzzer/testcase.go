// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vuzzer

import (
	"os"

	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
)

// Testcase is one member of the evolutionary corpus: an on-disk input with
// a lazily loaded buffer, its fitness score, and the taint map recorded for
// it (file offset -> byte values observed at that offset).
type Testcase struct {
	Path    string
	Fitness float64
	Taint   map[int][]byte

	buf    []byte
	loaded bool

	keep    bool
	ehbHits int
	cov     map[uint64]uint32
}

func NewTestcase(path string) *Testcase {
	return &Testcase{Path: path}
}

// newTestcaseBuf creates a testcase whose buffer is already in memory.
func newTestcaseBuf(path string, buf []byte) *Testcase {
	return &Testcase{Path: path, buf: buf, loaded: true}
}

// Load reads the input bytes, caching them until Unload.
func (tc *Testcase) Load() ([]byte, error) {
	if tc.loaded {
		return tc.buf, nil
	}
	buf, err := os.ReadFile(tc.Path)
	if err != nil {
		return nil, fuzzerr.WithPath(fuzzerr.IOFailure, tc.Path, "cannot load testcase")
	}
	tc.buf = buf
	tc.loaded = true
	return buf, nil
}

// Unload drops the cached buffer.
func (tc *Testcase) Unload() {
	tc.buf = nil
	tc.loaded = false
}

// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vuzzer

import (
	"bufio"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
)

// ParseBBWeights reads the static-analysis weight table: one
// "hexaddr weight" pair per line. Blank lines and # comments are skipped.
func ParseBBWeights(path string) (map[uint64]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fuzzerr.WithPath(fuzzerr.FatalConfig, path, "cannot read BB weight file")
	}
	defer f.Close()

	weights := make(map[uint64]float64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fuzzerr.Newf(fuzzerr.FatalConfig, "malformed weight line %q in %s", line, path)
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 64)
		if err != nil {
			return nil, fuzzerr.Newf(fuzzerr.FatalConfig, "bad address %q in %s", fields[0], path)
		}
		w, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fuzzerr.Newf(fuzzerr.FatalConfig, "bad weight %q in %s", fields[1], path)
		}
		weights[addr] = w
	}
	if err := sc.Err(); err != nil {
		return nil, fuzzerr.WithPath(fuzzerr.FatalConfig, path, "cannot read BB weight file")
	}
	return weights, nil
}

func log2(x float64) float64 { return math.Log2(x) }

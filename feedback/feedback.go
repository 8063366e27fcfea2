// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package feedback defines what the fuzzing cores consume from the
// program-under-test executor: exit classification, raw probe feedback,
// and the parsers turning feedback into coverage and taint maps.
package feedback

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ExitReason classifies how a PUT execution ended. The enumerant is part of
// the corpus file names (",er:N").
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitTimeout
	ExitCrash
	ExitError
)

func (e ExitReason) String() string {
	switch e {
	case ExitNone:
		return "none"
	case ExitTimeout:
		return "timeout"
	case ExitCrash:
		return "crash"
	case ExitError:
		return "error"
	}
	return fmt.Sprintf("exit(%d)", int(e))
}

// ExitStatus is the out-parameter filled by an executor run. Output carries
// whatever the PUT wrote to stderr, for crash dedup.
type ExitStatus struct {
	Reason ExitReason
	Signal int
	Output []byte
}

// Feedback wraps the raw bytes the coverage or taint probe produced for one
// execution.
type Feedback struct {
	Raw []byte
}

// Bits exposes the feedback as a coverage bitmap for engines that consume
// the probe's shared-memory dump directly.
func (f Feedback) Bits() []byte { return f.Raw }

// ParseBBCov parses basic-block coverage feedback: one "hexaddr:count" pair
// per line. Malformed lines are skipped.
func ParseBBCov(f Feedback) map[uint64]uint32 {
	cov := make(map[uint64]uint32)
	sc := bufio.NewScanner(bytes.NewReader(f.Raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		addrStr, countStr, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(addrStr, "0x"), 16, 64)
		if err != nil {
			continue
		}
		count, err := strconv.ParseUint(countStr, 10, 32)
		if err != nil {
			continue
		}
		cov[addr] += uint32(count)
	}
	return cov
}

// ParseTaint parses taint feedback: one "offset:v1,v2,..." line per tainted
// file offset, values in decimal. The result maps each offset to the byte
// values observed there, first-seen order preserved.
func ParseTaint(f Feedback) map[int][]byte {
	taint := make(map[int][]byte)
	sc := bufio.NewScanner(bytes.NewReader(f.Raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		offStr, valsStr, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		off, err := strconv.Atoi(offStr)
		if err != nil || off < 0 {
			continue
		}
		for _, v := range strings.Split(valsStr, ",") {
			n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 8)
			if err != nil {
				continue
			}
			if !containsByte(taint[off], byte(n)) {
				taint[off] = append(taint[off], byte(n))
			}
		}
	}
	return taint
}

func containsByte(s []byte, b byte) bool {
	for _, x := range s {
		if x == b {
			return true
		}
	}
	return false
}

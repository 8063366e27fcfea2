// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vuzzer

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
)

// Setting is the evolutionary-loop knob set, read from a YAML file.
type Setting struct {
	OutDir string `yaml:"out_dir"`
	InDir  string `yaml:"in_dir"`

	PopSize                    int     `yaml:"pop_size"`
	FillSeedsWithCrossoverProb float64 `yaml:"fill_seeds_with_crossover_prob"`
	KeepNum                    int     `yaml:"keep_num"`      // always-kept top seeds per round
	EHBRunNum                  int     `yaml:"ehb_run_num"`   // candidates re-run for EHB detection
	TaintRunNum                int     `yaml:"taint_run_num"` // candidates run under taint per round
	MutateNum                  int     `yaml:"mutate_num"`    // children generated per round
	EHBPenalty                 float64 `yaml:"ehb_penalty"`

	WeightFile string `yaml:"weight_file"`
	FullDict   string `yaml:"full_dict"`
	UniqueDict string `yaml:"unique_dict"`

	Verbose int `yaml:"verbose"`
}

// DefaultSetting mirrors the reference configuration.
func DefaultSetting() Setting {
	return Setting{
		PopSize:                    100,
		FillSeedsWithCrossoverProb: 0.4,
		KeepNum:                    10,
		EHBRunNum:                  10,
		TaintRunNum:                5,
		MutateNum:                  30,
		EHBPenalty:                 2.0,
	}
}

// LoadSetting reads and validates a settings file. Unset knobs keep their
// defaults.
func LoadSetting(path string) (Setting, error) {
	s := DefaultSetting()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fuzzerr.WithPath(fuzzerr.FatalConfig, path, "cannot read settings")
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fuzzerr.Newf(fuzzerr.FatalConfig, "cannot parse settings %s: %v", path, err)
	}
	return s, s.validate()
}

func (s *Setting) validate() error {
	if s.OutDir == "" {
		return fuzzerr.New(fuzzerr.FatalConfig, "out_dir is not set")
	}
	if s.PopSize < 3 {
		return fuzzerr.Newf(fuzzerr.FatalConfig, "pop_size %d is too small", s.PopSize)
	}
	if s.FillSeedsWithCrossoverProb < 0 || s.FillSeedsWithCrossoverProb > 1 {
		return fuzzerr.Newf(fuzzerr.FatalConfig, "fill_seeds_with_crossover_prob %v out of range", s.FillSeedsWithCrossoverProb)
	}
	return nil
}
